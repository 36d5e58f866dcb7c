package ledger

import (
	"strings"

	"github.com/mcclellann/debiflow/pkg/dataset"
	"github.com/mcclellann/debiflow/pkg/models"
	"github.com/shopspring/decimal"
)

// cell reads one required decimal; blanks are zero.
func cell(t *dataset.Table, artifact string, i int, column string) (decimal.Decimal, error) {
	raw := t.Value(i, column)
	d, _, err := dataset.ParseDecimal(raw)
	if err != nil {
		return decimal.Zero, &ParseError{Artifact: artifact, Row: i + 1, Column: column, Value: raw, Err: err}
	}
	return d, nil
}

func headerError(artifact string, err error) error {
	return &ParseError{Artifact: artifact, Err: err}
}

// cleanSchedule trims the header, maps the LoanID alias and drops blank rows
// and rows without a LoanID. Dates are rewritten as YYYY-MM-DD.
func cleanSchedule(t *dataset.Table, artifact string) (*dataset.Table, error) {
	t.TrimColumnNames()
	t.RenameColumn(dataset.ColScheduleLoanIDAlias, dataset.ColLoanID)
	desc, _ := dataset.Describe(models.CategorySchedule)
	if err := t.Require(desc.RequiredColumns...); err != nil {
		return nil, headerError(artifact, err)
	}
	cleaned := t.Filter(func(i int) bool {
		return !t.IsBlankRow(i) && strings.TrimSpace(t.Value(i, dataset.ColLoanID)) != ""
	})
	for i := 0; i < cleaned.Len(); i++ {
		cleaned.Set(i, dataset.ColLoanID, strings.TrimSpace(cleaned.Value(i, dataset.ColLoanID)))
		cleaned.Set(i, dataset.ColDueDate, dataset.NormalizeDate(cleaned.Value(i, dataset.ColDueDate)))
		cleaned.Set(i, dataset.ColPurchaseDate, dataset.NormalizeDate(cleaned.Value(i, dataset.ColPurchaseDate)))
	}
	return cleaned, nil
}

// decodeSchedule turns a cleaned schedule into receivables. Index is the
// 1-based rank of the row within its loan in row order.
func decodeSchedule(t *dataset.Table, artifact string) ([]models.Receivable, error) {
	perLoan := make(map[string]int)
	out := make([]models.Receivable, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		r := models.Receivable{
			Row:    i,
			LoanID: t.Value(i, dataset.ColLoanID),
			Entity: t.Value(i, dataset.ColEntity),
		}
		r.PurchaseDate, _ = dataset.ParseDate(t.Value(i, dataset.ColPurchaseDate))
		r.DueDate, _ = dataset.ParseDate(t.Value(i, dataset.ColDueDate))

		var err error
		if r.AdvanceRate, err = cell(t, artifact, i, dataset.ColAdvanceRate); err != nil {
			return nil, err
		}
		if r.Outstanding, err = cell(t, artifact, i, dataset.ColReceivableOutstanding); err != nil {
			return nil, err
		}
		if r.PurchaseConsideration, err = cell(t, artifact, i, dataset.ColPurchaseConsideration); err != nil {
			return nil, err
		}
		perLoan[r.LoanID]++
		r.Index = perLoan[r.LoanID]
		out = append(out, r)
	}
	return out, nil
}

// decodePayments reads every payment row. Rows with a blank LoanID or an
// unusable amount are kept; the allocator classifies them.
func decodePayments(t *dataset.Table, artifact string) ([]models.Payment, error) {
	t.TrimColumnNames()
	t.RenameColumn(dataset.ColPaymentsLoanIDAlias, dataset.ColLoanID)
	if err := t.Require(dataset.ColLoanID, dataset.ColPaidDate, dataset.ColAmountPaid); err != nil {
		return nil, headerError(artifact, err)
	}
	out := make([]models.Payment, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		p := models.Payment{Row: i, LoanID: strings.TrimSpace(t.Value(i, dataset.ColLoanID))}
		p.PaidDate, _ = dataset.ParseDate(t.Value(i, dataset.ColPaidDate))
		if amount, ok, err := dataset.ParseDecimal(t.Value(i, dataset.ColAmountPaid)); err == nil && ok {
			p.AmountPaid = decimal.NewNullDecimal(amount)
		}
		out = append(out, p)
	}
	return out, nil
}

// slotAllocation is one fully-allocated slot recovered from a flat
// Payments_Allocated row.
type slotAllocation struct {
	Amount decimal.Decimal
	Date   string
}

type slotKey struct {
	LoanID string
	Index  int
}

// decodeAllocatedSlots reshapes the (amount, flag) slot columns of a
// Payments_Allocated dataset into one entry per (LoanID, slot), keeping only
// flagged slots. Iteration is slot-major; a later duplicate replaces an
// earlier one.
func decodeAllocatedSlots(t *dataset.Table, artifact string) (map[slotKey]slotAllocation, error) {
	t.TrimColumnNames()
	if err := t.Require(dataset.ColLoanID, dataset.ColPaidDate); err != nil {
		return nil, headerError(artifact, err)
	}
	out := make(map[slotKey]slotAllocation)
	for slot := 1; t.Has(dataset.AllocationAmountColumn(slot)); slot++ {
		amountCol, flagCol := dataset.AllocationAmountColumn(slot), dataset.AllocationFlagColumn(slot)
		if !t.Has(flagCol) {
			return nil, headerError(artifact, &dataset.MissingColumnsError{Columns: []string{flagCol}})
		}
		for i := 0; i < t.Len(); i++ {
			if !dataset.ParseFlag(t.Value(i, flagCol)) {
				continue
			}
			amount, err := cell(t, artifact, i, amountCol)
			if err != nil {
				return nil, err
			}
			key := slotKey{LoanID: strings.TrimSpace(t.Value(i, dataset.ColLoanID)), Index: slot}
			out[key] = slotAllocation{
				Amount: amount.Round(2),
				Date:   dataset.NormalizeDate(t.Value(i, dataset.ColPaidDate)),
			}
		}
	}
	return out, nil
}

// decodeRepurchases reads a repurchase ledger in file order.
func decodeRepurchases(t *dataset.Table, artifact string) ([]models.RepurchaseRecord, error) {
	t.TrimColumnNames()
	if err := t.Require(dataset.RepurchaseColumns...); err != nil {
		return nil, headerError(artifact, err)
	}
	out := make([]models.RepurchaseRecord, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		if t.IsBlankRow(i) {
			continue
		}
		r := models.RepurchaseRecord{
			LoanID:    strings.TrimSpace(t.Value(i, dataset.ColLoanID)),
			Finalized: dataset.ParseFlag(t.Value(i, dataset.ColFinalized)),
		}
		r.DueDate, _ = dataset.ParseDate(t.Value(i, dataset.ColDueDate))
		r.RepurchaseDate, _ = dataset.ParseDate(t.Value(i, dataset.ColRepurchaseDate))
		out = append(out, r)
	}
	return out, nil
}

// decodeReceivablesAllocated reads a Receivables_Allocated dataset.
func decodeReceivablesAllocated(t *dataset.Table, artifact string) ([]models.ReceivableAllocated, error) {
	t.TrimColumnNames()
	if err := t.Require(
		dataset.ColLoanID, dataset.ColDueDate, dataset.ColPurchaseConsideration,
		dataset.ColAllocationDate, dataset.ColRepurchaseDate, dataset.ColDaysPastDue,
		dataset.ColMinimumRecoveryAmount,
	); err != nil {
		return nil, headerError(artifact, err)
	}
	out := make([]models.ReceivableAllocated, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		var r models.ReceivableAllocated
		r.Row = i
		r.LoanID = strings.TrimSpace(t.Value(i, dataset.ColLoanID))
		r.Entity = t.Value(i, dataset.ColEntity)
		r.DueDate, _ = dataset.ParseDate(t.Value(i, dataset.ColDueDate))
		r.PurchaseDate, _ = dataset.ParseDate(t.Value(i, dataset.ColPurchaseDate))
		r.AllocationDate, _ = dataset.ParseDate(t.Value(i, dataset.ColAllocationDate))
		r.RepurchaseDate, _ = dataset.ParseDate(t.Value(i, dataset.ColRepurchaseDate))

		var err error
		if r.PurchaseConsideration, err = cell(t, artifact, i, dataset.ColPurchaseConsideration); err != nil {
			return nil, err
		}
		if r.AllocatedAmount, err = cell(t, artifact, i, dataset.ColPaymentAllocated); err != nil {
			return nil, err
		}
		dpd, err := cell(t, artifact, i, dataset.ColDaysPastDue)
		if err != nil {
			return nil, err
		}
		r.DaysPastDue = int(dpd.IntPart())

		raw := t.Value(i, dataset.ColMinimumRecoveryAmount)
		mra, ok, err := dataset.ParseDecimal(raw)
		if err != nil {
			return nil, &ParseError{Artifact: artifact, Row: i + 1, Column: dataset.ColMinimumRecoveryAmount, Value: raw, Err: err}
		}
		if ok {
			r.MinimumRecoveryAmount = decimal.NewNullDecimal(mra)
		}
		out = append(out, r)
	}
	return out, nil
}

// decodeHPRepayments reads the repayment ledger. Amounts that are blank or not
// numeric count as zero, matching how bank exports are reconciled by hand.
func decodeHPRepayments(t *dataset.Table, artifact string) ([]models.HPRepayment, error) {
	t.TrimColumnNames()
	if err := t.Require(dataset.ColHPRepaymentAmount); err != nil {
		return nil, headerError(artifact, err)
	}
	out := make([]models.HPRepayment, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		r := models.HPRepayment{
			BankStatementRef: t.Value(i, dataset.ColBankStatementRef),
			To:               t.Value(i, dataset.ColTo),
		}
		r.Date, _ = dataset.ParseDate(t.Value(i, dataset.ColHPRepaymentDate))
		if amount, ok, err := dataset.ParseDecimal(t.Value(i, dataset.ColHPRepaymentAmount)); err == nil && ok {
			r.Amount = amount
		}
		out = append(out, r)
	}
	return out, nil
}
