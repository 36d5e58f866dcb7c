package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mcclellann/debiflow/pkg/models"
	"github.com/mcclellann/debiflow/pkg/period"
	"github.com/mcclellann/debiflow/pkg/store"
)

// ErrNoJournal is returned by Runs when the ledger records no runs.
var ErrNoJournal = errors.New("no run journal configured")

// ResolvePeriods returns the latest complete raw period and the latest master
// before the cutoff. Either may be zero.
func (l *Ledger) ResolvePeriods(ctx context.Context, investor string, reference models.Period) (period.Result, error) {
	if !reference.IsZero() {
		if _, err := models.ParsePeriod(string(reference)); err != nil {
			return period.Result{}, err
		}
	}
	return l.resolver.Resolve(ctx, investor, reference)
}

// ListInvestors returns every investor with stored files, sorted.
func (l *Ledger) ListInvestors(ctx context.Context) ([]string, error) {
	paths, err := l.storage.List(ctx, store.RootPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list investors: %w", err)
	}
	seen := make(map[string]struct{})
	var investors []string
	for _, p := range paths {
		inv, ok := store.InvestorFromPath(p)
		if !ok {
			continue
		}
		if _, dup := seen[inv]; dup {
			continue
		}
		seen[inv] = struct{}{}
		investors = append(investors, inv)
	}
	sort.Strings(investors)
	return investors, nil
}

// ConfirmResult reports what ConfirmPeriod produced.
type ConfirmResult struct {
	Investor             string        `json:"investor"`
	ReportPeriod         models.Period `json:"report_period"`
	PriorMaster          models.Period `json:"prior_master"`
	Masters              []string      `json:"masters"`
	PaymentsAllocated    string        `json:"payments_allocated"`
	ReceivablesAllocated string        `json:"receivables_allocated"`
}

// confirmCategories must have masters before allocation can run.
var confirmCategories = []models.Category{
	models.CategorySchedule,
	models.CategoryPayments,
	models.CategoryHPRepayments,
}

// ConfirmPeriod merges the raw uploads of reportPeriod onto the latest prior
// master and runs both allocation engines. The first failing stage aborts the
// pipeline and is named in the returned error.
func (l *Ledger) ConfirmPeriod(ctx context.Context, investor string, reportPeriod models.Period) (*ConfirmResult, error) {
	if err := requirePeriod(reportPeriod, "report period"); err != nil {
		return nil, err
	}
	periods, err := l.ResolvePeriods(ctx, investor, reportPeriod)
	if err != nil {
		return nil, err
	}
	if periods.PriorMaster.IsZero() {
		return nil, missing("prior master", fmt.Sprintf("no master before %s", reportPeriod))
	}
	if periods.LatestRaw != reportPeriod {
		return nil, missing("raw upload "+string(reportPeriod), "not every category has been uploaded")
	}

	res := &ConfirmResult{Investor: investor, ReportPeriod: reportPeriod, PriorMaster: periods.PriorMaster}
	if res.Masters, err = l.MergeMasters(ctx, investor, reportPeriod, periods.PriorMaster); err != nil {
		return nil, &StageError{Stage: string(models.StageMerge), Err: err}
	}
	for _, c := range confirmCategories {
		path := store.InvestorPath(investor, store.FolderMaster, store.MasterFileName(c, reportPeriod))
		ok, err := l.storage.Exists(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s: %w", path, err)
		}
		if !ok {
			return nil, &StageError{Stage: string(models.StageMerge), Err: missing(path, "master not written")}
		}
	}
	if res.PaymentsAllocated, err = l.AllocatePayments(ctx, investor, reportPeriod); err != nil {
		return nil, &StageError{Stage: string(models.StagePaymentAllocation), Err: err}
	}
	if res.ReceivablesAllocated, err = l.AllocateReceivables(ctx, investor, reportPeriod, periods.PriorMaster); err != nil {
		return nil, &StageError{Stage: string(models.StageReceivableAlloc), Err: err}
	}
	return res, nil
}

// Runs lists the recorded stage runs of an investor, oldest first.
func (l *Ledger) Runs(ctx context.Context, investor string) ([]*models.StageRun, error) {
	if l.journal == nil {
		return nil, ErrNoJournal
	}
	return l.journal.ListRuns(ctx, investor)
}
