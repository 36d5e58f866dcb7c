package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/mcclellann/debiflow/pkg/dataset"
	"github.com/mcclellann/debiflow/pkg/models"
	"github.com/mcclellann/debiflow/pkg/store"
	"github.com/sirupsen/logrus"
)

// SelectRepurchases finalizes, as of reportDate, every row at or beyond the
// threshold that has not been repurchased yet.
func SelectRepurchases(rows []models.ReceivableAllocated, threshold int, reportDate time.Time) []models.RepurchaseRecord {
	var out []models.RepurchaseRecord
	for _, r := range rows {
		if r.DaysPastDue < threshold || !r.RepurchaseDate.IsZero() {
			continue
		}
		out = append(out, models.RepurchaseRecord{
			LoanID:         r.LoanID,
			DueDate:        r.DueDate,
			RepurchaseDate: reportDate,
			Finalized:      true,
		})
	}
	return out
}

// MergeLedger concatenates ledgers in order and keeps the last record per
// (LoanID, DueDate), positioned where that record appeared. A finalized
// record is only superseded by a later finalized one.
func MergeLedger(ledgers ...[]models.RepurchaseRecord) []models.RepurchaseRecord {
	var all []models.RepurchaseRecord
	for _, l := range ledgers {
		all = append(all, l...)
	}
	kept := make(map[models.RepurchaseKey]int, len(all))
	for i, r := range all {
		if j, ok := kept[r.Key()]; ok && all[j].Finalized && !r.Finalized {
			continue
		}
		kept[r.Key()] = i
	}
	out := make([]models.RepurchaseRecord, 0, len(kept))
	for i, r := range all {
		if kept[r.Key()] == i {
			out = append(out, r)
		}
	}
	return out
}

// FinalizeRepurchases marks delinquent receivables of reportPeriod as
// repurchased, writes the cumulative ledger under reportPeriod and recomputes
// Receivables_Allocated against it. It returns the number of new records.
func (l *Ledger) FinalizeRepurchases(ctx context.Context, investor string, reportPeriod, priorReportPeriod models.Period, threshold int) (int, error) {
	finalized := 0
	_, err := l.run(ctx, investor, reportPeriod, models.StageRepurchaseFinalizer, func(log *logrus.Entry) (string, int, error) {
		if err := requirePeriod(reportPeriod, "report period"); err != nil {
			return "", 0, err
		}
		if err := requirePeriod(priorReportPeriod, "prior report period"); err != nil {
			return "", 0, err
		}
		if threshold < 0 {
			return "", 0, fmt.Errorf("invalid threshold %d: must not be negative", threshold)
		}

		receivablesPath := store.InvestorPath(investor, store.FolderOutputs, store.ReceivablesAllocatedFileName(reportPeriod))
		t, err := l.loadRequired(ctx, receivablesPath)
		if err != nil {
			return "", 0, err
		}
		rows, err := decodeReceivablesAllocated(t, receivablesPath)
		if err != nil {
			return "", 0, err
		}

		prior, err := l.loadRepurchases(ctx, log, investor, priorReportPeriod)
		if err != nil {
			return "", 0, err
		}
		// A rerun for the same period must not drop what it finalized before.
		current, err := l.loadRepurchases(ctx, log, investor, reportPeriod)
		if err != nil {
			return "", 0, err
		}

		selected := SelectRepurchases(rows, threshold, reportPeriod.Date())
		merged := MergeLedger(prior, current, selected)
		finalized = len(selected)

		path := store.InvestorPath(investor, store.FolderMaster, store.RepurchasesFileName(reportPeriod))
		if err := l.write(ctx, path, encodeRepurchases(merged)); err != nil {
			return "", 0, err
		}
		log.WithFields(logrus.Fields{"threshold": threshold, "finalized": finalized, "ledger": len(merged)}).Info("repurchase ledger written")
		return path, len(merged), nil
	})
	if err != nil {
		return 0, err
	}

	if _, err := l.AllocateReceivables(ctx, investor, reportPeriod, priorReportPeriod); err != nil {
		return finalized, err
	}
	return finalized, nil
}

func encodeRepurchases(records []models.RepurchaseRecord) *dataset.Table {
	t := dataset.New(dataset.RepurchaseColumns...)
	for _, r := range records {
		_ = t.Append(
			r.LoanID,
			dataset.FormatDate(r.DueDate),
			dataset.FormatDate(r.RepurchaseDate),
			dataset.FormatBool(r.Finalized),
		)
	}
	return t
}
