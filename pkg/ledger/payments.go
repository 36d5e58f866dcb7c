package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/mcclellann/debiflow/pkg/dataset"
	"github.com/mcclellann/debiflow/pkg/models"
	"github.com/mcclellann/debiflow/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Tolerance is the closeness within which a cumulative allocation counts as
// having reached a receivable's outstanding amount.
var Tolerance = decimal.New(1, -2)

func near(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// loanBook tracks the running allocation of one loan's receivables in due
// date order.
type loanBook struct {
	outstanding []decimal.Decimal
	cumulative  []decimal.Decimal
	flagged     []bool
}

func (b *loanBook) total(values []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum
}

// AllocateWaterfall places each payment across its loan's receivables, oldest
// due date first, over at most MaxAllocationSlots receivables. Payments are
// processed in (LoanID, PaidDate) order and the results come back in that
// order. Every payment yields exactly one allocation.
func AllocateWaterfall(receivables []models.Receivable, payments []models.Payment) []models.PaymentAllocation {
	ordered := make([]models.Receivable, len(receivables))
	copy(ordered, receivables)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].LoanID != ordered[j].LoanID {
			return ordered[i].LoanID < ordered[j].LoanID
		}
		return dateBefore(ordered[i].DueDate, ordered[j].DueDate)
	})
	books := make(map[string]*loanBook)
	for _, r := range ordered {
		b := books[r.LoanID]
		if b == nil {
			b = &loanBook{}
			books[r.LoanID] = b
		}
		b.outstanding = append(b.outstanding, r.Outstanding)
		b.cumulative = append(b.cumulative, decimal.Zero)
		b.flagged = append(b.flagged, false)
	}

	queue := make([]models.Payment, len(payments))
	copy(queue, payments)
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if (a.LoanID == "") != (b.LoanID == "") {
			return b.LoanID == ""
		}
		if a.LoanID != b.LoanID {
			return a.LoanID < b.LoanID
		}
		return dateBefore(a.PaidDate, b.PaidDate)
	})

	out := make([]models.PaymentAllocation, 0, len(queue))
	for _, p := range queue {
		out = append(out, allocate(books, p))
	}
	return out
}

func allocate(books map[string]*loanBook, p models.Payment) models.PaymentAllocation {
	res := models.PaymentAllocation{Payment: p}
	if p.LoanID == "" || p.LoanID == "0" || !p.AmountPaid.Valid || !p.AmountPaid.Decimal.IsPositive() {
		res.UnallocatedReason = models.ReasonInvalidInput
		return res
	}
	b, ok := books[p.LoanID]
	if !ok {
		res.UnallocatedReason = models.ReasonNoReceivables
		res.Remaining = p.AmountPaid.Decimal
		return res
	}
	if b.total(b.outstanding).IsZero() {
		res.UnallocatedReason = models.ReasonZeroReceivables
		res.Remaining = p.AmountPaid.Decimal
		return res
	}

	remaining := p.AmountPaid.Decimal
	slots := min(models.MaxAllocationSlots, len(b.outstanding))
	for i := 0; i < slots; i++ {
		if !remaining.IsPositive() {
			break
		}
		amount := decimal.Min(b.outstanding[i].Sub(b.cumulative[i]), remaining)
		amount = decimal.Max(amount, decimal.Zero).Round(2)
		res.Slots[i].Amount = amount
		b.cumulative[i] = b.cumulative[i].Add(amount)
		remaining = remaining.Sub(amount)

		if !b.flagged[i] && near(b.cumulative[i], b.outstanding[i]) {
			res.Slots[i].FullyAllocated = true
			b.flagged[i] = true
		}
	}
	res.Remaining = remaining

	if res.Allocated().IsZero() {
		if near(b.total(b.cumulative), b.total(b.outstanding)) {
			res.UnallocatedReason = models.ReasonAlreadySettled
		} else {
			res.UnallocatedReason = models.ReasonDuplicate
		}
	}
	return res
}

// dateBefore orders dates ascending with missing dates last.
func dateBefore(a, b time.Time) bool {
	if a.IsZero() != b.IsZero() {
		return b.IsZero()
	}
	return a.Before(b)
}

// AllocatePayments runs the payment waterfall for reportPeriod and writes
// Payments_Allocated. It returns the output path.
func (l *Ledger) AllocatePayments(ctx context.Context, investor string, reportPeriod models.Period) (string, error) {
	return l.run(ctx, investor, reportPeriod, models.StagePaymentAllocation, func(log *logrus.Entry) (string, int, error) {
		if err := requirePeriod(reportPeriod, "report period"); err != nil {
			return "", 0, err
		}
		paymentsPath := store.InvestorPath(investor, store.FolderMaster, store.MasterFileName(models.CategoryPayments, reportPeriod))
		schedulePath := store.InvestorPath(investor, store.FolderMaster, store.MasterFileName(models.CategorySchedule, reportPeriod))

		paymentsTable, err := l.loadRequired(ctx, paymentsPath)
		if err != nil {
			return "", 0, err
		}
		scheduleTable, err := l.loadRequired(ctx, schedulePath)
		if err != nil {
			return "", 0, err
		}
		payments, err := decodePayments(paymentsTable, paymentsPath)
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

		allocations := AllocateWaterfall(receivables, payments)
		out := encodePaymentAllocations(paymentsTable, allocations)

		unallocated := 0
		for _, a := range allocations {
			if a.UnallocatedReason != models.ReasonNone {
				unallocated++
			}
		}
		log.WithFields(logrus.Fields{"payments": len(allocations), "unallocated": unallocated}).Info("payments allocated")

		path := store.InvestorPath(investor, store.FolderOutputs, store.PaymentsAllocatedFileName(reportPeriod))
		if err := l.write(ctx, path, out); err != nil {
			return "", 0, err
		}
		return path, out.Len(), nil
	})
}

// encodePaymentAllocations flattens allocations onto the source payment rows,
// adding the fixed slot columns and the reason.
func encodePaymentAllocations(source *dataset.Table, allocations []models.PaymentAllocation) *dataset.Table {
	columns := source.Columns()
	for i := 1; i <= models.MaxAllocationSlots; i++ {
		columns = append(columns, dataset.AllocationAmountColumn(i))
	}
	for i := 1; i <= models.MaxAllocationSlots; i++ {
		columns = append(columns, dataset.AllocationFlagColumn(i))
	}
	columns = append(columns, dataset.ColUnallocatedReason)

	out := dataset.New(columns...)
	for _, a := range allocations {
		row := make([]string, 0, len(columns))
		row = append(row, source.Row(a.Payment.Row)...)
		for _, s := range a.Slots {
			row = append(row, dataset.FormatMoney(s.Amount))
		}
		for _, s := range a.Slots {
			row = append(row, dataset.FormatFlag(s.FullyAllocated))
		}
		row = append(row, string(a.UnallocatedReason))
		_ = out.Append(row...)
	}
	return out
}
