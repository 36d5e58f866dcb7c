package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/mcclellann/debiflow/pkg/dataset"
	"github.com/mcclellann/debiflow/pkg/models"
	"github.com/mcclellann/debiflow/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	earliestCutoff = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	latestCutoff   = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
	daysPerYear    = decimal.NewFromInt(365)
)

// finalizedDates keeps the repurchase date of every finalized record; a later
// record for the same key replaces an earlier one.
func finalizedDates(records []models.RepurchaseRecord) map[models.RepurchaseKey]time.Time {
	out := make(map[models.RepurchaseKey]time.Time)
	for _, r := range records {
		if !r.Finalized {
			continue
		}
		out[r.Key()] = r.RepurchaseDate
	}
	return out
}

// MinimumRecovery accrues pc at the advance rate for the days elapsed between
// purchase and cutoff, rounded to cents.
func MinimumRecovery(pc, advanceRate decimal.Decimal, days int) decimal.Decimal {
	accrual := advanceRate.Mul(decimal.NewFromInt(int64(days))).Div(daysPerYear)
	return pc.Mul(decimal.NewFromInt(1).Add(accrual)).Round(2)
}

func inCutoffRange(t time.Time) bool {
	return !t.IsZero() && !t.Before(earliestCutoff) && t.Before(latestCutoff)
}

// computeReceivables joins the schedule with fully-allocated slots and the
// finalized repurchase ledgers and derives days past due and the minimum
// recovery amount as of reportDate. Output keeps schedule order.
func computeReceivables(
	receivables []models.Receivable,
	slots map[slotKey]slotAllocation,
	prior, current []models.RepurchaseRecord,
	reportDate time.Time,
) []models.ReceivableAllocated {
	repurchased := finalizedDates(prior)
	for k, d := range finalizedDates(current) {
		repurchased[k] = d
	}

	out := make([]models.ReceivableAllocated, 0, len(receivables))
	for _, r := range receivables {
		row := models.ReceivableAllocated{Receivable: r}
		if s, ok := slots[slotKey{LoanID: r.LoanID, Index: r.Index}]; ok {
			row.AllocatedAmount = s.Amount
			row.AllocationDate, _ = dataset.ParseDate(s.Date)
		}
		row.RepurchaseDate = repurchased[models.RepurchaseKey{LoanID: r.LoanID, DueDate: dataset.FormatDate(r.DueDate)}]

		if row.AllocatedAmount.IsZero() && row.RepurchaseDate.IsZero() && !r.DueDate.IsZero() && r.DueDate.Before(reportDate) {
			row.DaysPastDue = dataset.DaysBetween(r.DueDate, reportDate)
		}

		hasCutoff := !row.RepurchaseDate.IsZero() || !row.AllocationDate.IsZero()
		if hasCutoff {
			cutoff := row.RepurchaseDate
			if cutoff.IsZero() {
				cutoff = row.AllocationDate
			}
			days := 0
			if inCutoffRange(cutoff) && !r.PurchaseDate.IsZero() {
				days = dataset.DaysBetween(r.PurchaseDate, cutoff)
			}
			row.MinimumRecoveryAmount = decimal.NewNullDecimal(MinimumRecovery(r.PurchaseConsideration, r.AdvanceRate, days))
		}
		out = append(out, row)
	}
	return out
}

// AllocateReceivables recomputes every receivable of reportPeriod and writes
// Receivables_Allocated. priorReportPeriod is required; missing repurchase
// ledgers for either period count as empty.
func (l *Ledger) AllocateReceivables(ctx context.Context, investor string, reportPeriod, priorReportPeriod models.Period) (string, error) {
	return l.run(ctx, investor, reportPeriod, models.StageReceivableAlloc, func(log *logrus.Entry) (string, int, error) {
		return l.allocateReceivables(ctx, log, investor, reportPeriod, priorReportPeriod)
	})
}

func (l *Ledger) allocateReceivables(ctx context.Context, log *logrus.Entry, investor string, reportPeriod, priorReportPeriod models.Period) (string, int, error) {
	if err := requirePeriod(reportPeriod, "report period"); err != nil {
		return "", 0, err
	}
	if err := requirePeriod(priorReportPeriod, "prior report period"); err != nil {
		return "", 0, err
	}

	schedulePath := store.InvestorPath(investor, store.FolderMaster, store.MasterFileName(models.CategorySchedule, reportPeriod))
	allocatedPath := store.InvestorPath(investor, store.FolderOutputs, store.PaymentsAllocatedFileName(reportPeriod))

	scheduleTable, err := l.loadRequired(ctx, schedulePath)
	if err != nil {
		return "", 0, err
	}
	scheduleTable, err = cleanSchedule(scheduleTable, schedulePath)
	if err != nil {
		return "", 0, err
	}
	receivables, err := decodeSchedule(scheduleTable, schedulePath)
	if err != nil {
		return "", 0, err
	}

	allocatedTable, err := l.loadRequired(ctx, allocatedPath)
	if err != nil {
		return "", 0, err
	}
	slots, err := decodeAllocatedSlots(allocatedTable, allocatedPath)
	if err != nil {
		return "", 0, err
	}

	prior, err := l.loadRepurchases(ctx, log, investor, priorReportPeriod)
	if err != nil {
		return "", 0, err
	}
	current, err := l.loadRepurchases(ctx, log, investor, reportPeriod)
	if err != nil {
		return "", 0, err
	}

	rows := computeReceivables(receivables, slots, prior, current, reportPeriod.Date())
	out := encodeReceivables(scheduleTable, rows)

	path := store.InvestorPath(investor, store.FolderOutputs, store.ReceivablesAllocatedFileName(reportPeriod))
	if err := l.write(ctx, path, out); err != nil {
		return "", 0, err
	}
	return path, out.Len(), nil
}

// loadRepurchases reads the ledger of period p, empty when it does not exist.
func (l *Ledger) loadRepurchases(ctx context.Context, log *logrus.Entry, investor string, p models.Period) ([]models.RepurchaseRecord, error) {
	path := store.InvestorPath(investor, store.FolderMaster, store.RepurchasesFileName(p))
	t, found, err := l.loadOptional(ctx, path, log)
	if err != nil || !found {
		return nil, err
	}
	return decodeRepurchases(t, path)
}

var receivableColumns = []string{
	dataset.ColReceivableIndex,
	dataset.ColPaymentAllocated,
	dataset.ColAllocationDate,
	dataset.ColRepurchaseDate,
	dataset.ColDaysPastDue,
	dataset.ColMinimumRecoveryAmount,
}

func encodeReceivables(schedule *dataset.Table, rows []models.ReceivableAllocated) *dataset.Table {
	out := schedule.Filter(func(int) bool { return true })
	for _, c := range receivableColumns {
		out.AddColumn(c)
	}
	for i, r := range rows {
		out.Set(i, dataset.ColReceivableIndex, strconv.Itoa(r.Index))
		out.Set(i, dataset.ColPaymentAllocated, dataset.FormatMoney(r.AllocatedAmount))
		out.Set(i, dataset.ColAllocationDate, dataset.FormatDate(r.AllocationDate))
		out.Set(i, dataset.ColRepurchaseDate, dataset.FormatDate(r.RepurchaseDate))
		out.Set(i, dataset.ColDaysPastDue, strconv.Itoa(r.DaysPastDue))
		out.Set(i, dataset.ColMinimumRecoveryAmount, dataset.FormatNullMoney(r.MinimumRecoveryAmount))
	}
	return out
}
