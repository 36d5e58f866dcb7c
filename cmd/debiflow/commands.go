package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mcclellann/debiflow/pkg/models"
	"github.com/mcclellann/debiflow/pkg/report"
	"github.com/spf13/cobra"
)

// flags shared by every subcommand.
type flags struct {
	investor  string
	period    string
	prior     string
	reference string
	threshold int
	out       string
}

type cli struct {
	open  opener
	env   *env
	flags flags
	root  *cobra.Command
}

func newCLI(open opener) *cli {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:   "debiflow",
		Short: "Receivables reconciliation for investor portfolios",
		Long: `debiflow merges monthly uploads into master datasets, allocates payments
and receivables, finalizes repurchases and reports arrears per investor.

Examples:
  debiflow resolve --investor acme --reference 20240229
  debiflow confirm --investor acme --period 20240229
  debiflow finalize --investor acme --period 20240229 --threshold 90
  debiflow export xlsx --investor acme --period 20240229 --out summary.xlsx`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			e, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			c.env = e
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.investor, "investor", "", "Investor whose files are processed")
	pf.StringVar(&c.flags.period, "period", "", "Report period (YYYYMMDD)")
	pf.StringVar(&c.flags.prior, "prior", "", "Prior master period (YYYYMMDD), resolved when omitted")
	pf.StringVar(&c.flags.reference, "reference", "", "Reference period for resolution (YYYYMMDD)")
	pf.IntVar(&c.flags.threshold, "threshold", -1, "DPD repurchase threshold (default from DEBIFLOW_DPD_THRESHOLD)")

	root.AddCommand(
		c.investorsCmd(),
		c.resolveCmd(),
		c.seedCmd(),
		c.mergeCmd(),
		c.allocatePaymentsCmd(),
		c.allocateReceivablesCmd(),
		c.finalizeCmd(),
		c.summarizeCmd(),
		c.confirmCmd(),
		c.exportCmd(),
		c.runsCmd(),
	)
	c.root = root
	return c
}

// Execute runs the command line and closes the store it opened, also when
// the command failed.
func (c *cli) Execute() error {
	err := c.root.Execute()
	if c.env != nil {
		if cerr := c.env.storage.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close store: %w", cerr)
		}
		c.env = nil
	}
	return err
}

func (c *cli) print(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) investor() (string, error) {
	if c.flags.investor == "" {
		return "", errors.New("--investor is required")
	}
	return c.flags.investor, nil
}

func (c *cli) reportPeriod() (models.Period, error) {
	if c.flags.period == "" {
		return "", errors.New("--period is required")
	}
	return models.ParsePeriod(c.flags.period)
}

// target returns the investor and report period every period command needs.
func (c *cli) target() (string, models.Period, error) {
	inv, err := c.investor()
	if err != nil {
		return "", "", err
	}
	p, err := c.reportPeriod()
	if err != nil {
		return "", "", err
	}
	return inv, p, nil
}

// priorPeriod returns --prior or the latest master before p.
func (c *cli) priorPeriod(cmd *cobra.Command, investor string, p models.Period) (models.Period, error) {
	if c.flags.prior != "" {
		return models.ParsePeriod(c.flags.prior)
	}
	res, err := c.env.ledger.ResolvePeriods(cmd.Context(), investor, p)
	if err != nil {
		return "", err
	}
	if res.PriorMaster.IsZero() {
		return "", fmt.Errorf("no master before %s; pass --prior", p)
	}
	return res.PriorMaster, nil
}

func (c *cli) dpdThreshold() int {
	if c.flags.threshold >= 0 {
		return c.flags.threshold
	}
	return c.env.threshold
}

func (c *cli) investorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "investors",
		Short: "List investors with stored files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			investors, err := c.env.ledger.ListInvestors(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(cmd, investors)
		},
	}
}

func (c *cli) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Show the latest complete raw period and the prior master",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := c.investor()
			if err != nil {
				return err
			}
			var reference models.Period
			if c.flags.reference != "" {
				if reference, err = models.ParsePeriod(c.flags.reference); err != nil {
					return err
				}
			}
			res, err := c.env.ledger.ResolvePeriods(cmd.Context(), inv, reference)
			if err != nil {
				return err
			}
			return c.print(cmd, res)
		},
	}
}

func (c *cli) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Write empty masters for an investor's first period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, p, err := c.target()
			if err != nil {
				return err
			}
			written, err := c.env.ledger.SeedMasters(cmd.Context(), inv, p)
			if err != nil {
				return err
			}
			return c.print(cmd, written)
		},
	}
}

func (c *cli) mergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Append the period's raw uploads to the prior masters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, p, err := c.target()
			if err != nil {
				return err
			}
			prior, err := c.priorPeriod(cmd, inv, p)
			if err != nil {
				return err
			}
			written, err := c.env.ledger.MergeMasters(cmd.Context(), inv, p, prior)
			if err != nil {
				return err
			}
			return c.print(cmd, written)
		},
	}
}

func (c *cli) allocatePaymentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "allocate-payments",
		Short: "Run the payment waterfall for a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, p, err := c.target()
			if err != nil {
				return err
			}
			out, err := c.env.ledger.AllocatePayments(cmd.Context(), inv, p)
			if err != nil {
				return err
			}
			return c.print(cmd, map[string]string{"output": out})
		},
	}
}

func (c *cli) allocateReceivablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "allocate-receivables",
		Short: "Compute allocation dates, arrears and recovery amounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, p, err := c.target()
			if err != nil {
				return err
			}
			prior, err := c.priorPeriod(cmd, inv, p)
			if err != nil {
				return err
			}
			out, err := c.env.ledger.AllocateReceivables(cmd.Context(), inv, p, prior)
			if err != nil {
				return err
			}
			return c.print(cmd, map[string]string{"output": out})
		},
	}
}

func (c *cli) finalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize",
		Short: "Record repurchases at or beyond the DPD threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, p, err := c.target()
			if err != nil {
				return err
			}
			prior, err := c.priorPeriod(cmd, inv, p)
			if err != nil {
				return err
			}
			threshold := c.dpdThreshold()
			n, err := c.env.ledger.FinalizeRepurchases(cmd.Context(), inv, p, prior, threshold)
			if err != nil {
				return err
			}
			return c.print(cmd, map[string]any{"threshold": threshold, "finalized": n})
		},
	}
}

func (c *cli) summarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize",
		Short: "Print the arrears bucket summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, p, err := c.target()
			if err != nil {
				return err
			}
			summary, err := c.env.ledger.Summarize(cmd.Context(), inv, p, c.dpdThreshold())
			if err != nil {
				return err
			}
			return c.print(cmd, summary)
		},
	}
}

func (c *cli) confirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm",
		Short: "Merge the period's uploads and run both allocations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, p, err := c.target()
			if err != nil {
				return err
			}
			res, err := c.env.ledger.ConfirmPeriod(cmd.Context(), inv, p)
			if err != nil {
				return err
			}
			return c.print(cmd, res)
		},
	}
}

func (c *cli) exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "export {masters|allocations|xlsx}",
		Short:     "Write a zip bundle or the summary workbook to a file",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(report.BundleMasters), string(report.BundleAllocations), "xlsx"},
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, p, err := c.target()
			if err != nil {
				return err
			}
			var (
				data []byte
				name string
			)
			if args[0] == "xlsx" {
				summary, err := c.env.ledger.Summarize(cmd.Context(), inv, p, c.dpdThreshold())
				if err != nil {
					return err
				}
				if data, err = report.SummaryWorkbook(summary); err != nil {
					return err
				}
				name = fmt.Sprintf("%s_Summary_%s.xlsx", inv, p)
			} else {
				kind, err := report.ParseBundleKind(args[0])
				if err != nil {
					return err
				}
				if data, err = report.Bundle(cmd.Context(), c.env.storage, inv, p, kind); err != nil {
					return err
				}
				name = report.BundleFileName(inv, kind, p)
			}
			if c.flags.out != "" {
				name = c.flags.out
			}
			if err := os.WriteFile(name, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", name, err)
			}
			return c.print(cmd, map[string]any{"file": name, "bytes": len(data)})
		},
	}
	cmd.Flags().StringVar(&c.flags.out, "out", "", "Output file (default: derived from investor and period)")
	return cmd
}

func (c *cli) runsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List journaled stage runs of an investor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := c.investor()
			if err != nil {
				return err
			}
			runs, err := c.env.ledger.Runs(cmd.Context(), inv)
			if err != nil {
				return err
			}
			return c.print(cmd, runs)
		},
	}
}
