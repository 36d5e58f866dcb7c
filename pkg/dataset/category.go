package dataset

import (
	"fmt"
	"strings"

	"github.com/mcclellann/debiflow/pkg/models"
)

// Column names shared across the stored datasets.
const (
	ColLoanID                = "LoanID"
	ColPurchaseDate          = "Purchase_Date"
	ColDueDate               = "Due_Date"
	ColAdvanceRate           = "Advance_Rate"
	ColReceivableOutstanding = "Receivable_Outstandings"
	ColPurchaseConsideration = "Purchase_Consideration"
	ColEntity                = "entity"

	ColPaidDate   = "Paid_Date"
	ColAmountPaid = "Amount_Paid"

	ColHPRepaymentDate   = "HP_Repayment_Date"
	ColBankStatementRef  = "BankStatement_Ref"
	ColHPRepaymentAmount = "HP_Repayment_Amount"
	ColTo                = "To"

	ColUnallocatedReason = "Unallocated_Reason"

	ColReceivableIndex       = "Receivable_Index"
	ColPaymentAllocated      = "Payment_allocated"
	ColAllocationDate        = "Allocation_Date"
	ColRepurchaseDate        = "Repurchase_Date"
	ColDaysPastDue           = "Days_Past_Due"
	ColMinimumRecoveryAmount = "Minimum_Recovery_Amount"
	ColFinalized             = "Finalized"
)

// Upstream systems sometimes ship the loan key under these names.
const (
	ColScheduleLoanIDAlias = "originator_LoanID"
	ColPaymentsLoanIDAlias = "originatorLoanID"
)

// AllocationAmountColumn is the flat column of slot i (1-based).
func AllocationAmountColumn(i int) string {
	return fmt.Sprintf("Payment_Allocation_pmt%d", i)
}

// AllocationFlagColumn is the flat fully-allocated flag column of slot i.
func AllocationFlagColumn(i int) string {
	return fmt.Sprintf("Payment_Allocation_flag%d", i)
}

// RepurchaseColumns is the header of the repurchase ledger.
var RepurchaseColumns = []string{ColLoanID, ColDueDate, ColRepurchaseDate, ColFinalized}

// Descriptor describes how one upload category is shaped.
type Descriptor struct {
	Category        models.Category
	RequiredColumns []string
	DateColumns     []string
	NumericColumns  []string
	// KeyColumn, when set, drops rows with a blank key during merge.
	KeyColumn string
}

var descriptors = map[models.Category]Descriptor{
	models.CategorySchedule: {
		Category: models.CategorySchedule,
		RequiredColumns: []string{
			ColLoanID, ColPurchaseDate, ColDueDate, ColAdvanceRate,
			ColReceivableOutstanding, ColPurchaseConsideration, ColEntity,
		},
		DateColumns:    []string{ColPurchaseDate, ColDueDate},
		NumericColumns: []string{ColAdvanceRate, ColReceivableOutstanding, ColPurchaseConsideration},
		KeyColumn:      ColLoanID,
	},
	models.CategoryPayments: {
		Category:        models.CategoryPayments,
		RequiredColumns: []string{ColLoanID, ColPaidDate, ColAmountPaid},
		DateColumns:     []string{ColPaidDate},
		NumericColumns:  []string{ColAmountPaid},
	},
	models.CategoryHPRepayments: {
		Category:        models.CategoryHPRepayments,
		RequiredColumns: []string{ColHPRepaymentDate, ColBankStatementRef, ColHPRepaymentAmount, ColTo},
		DateColumns:     []string{ColHPRepaymentDate},
		NumericColumns:  []string{ColHPRepaymentAmount},
	},
	models.CategoryCustomerDetails: {
		Category: models.CategoryCustomerDetails,
	},
}

// Describe returns the descriptor of a known category.
func Describe(c models.Category) (Descriptor, error) {
	d, ok := descriptors[c]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown category %q", c)
	}
	return d, nil
}

// Normalize applies the descriptor's cleaning rules to t in place and returns
// the surviving rows: header names trimmed, date columns rewritten as
// YYYY-MM-DD, numeric columns blanked when unparseable, fully blank rows and
// rows without the key dropped.
func (d Descriptor) Normalize(t *Table) *Table {
	t.TrimColumnNames()
	for i := 0; i < t.Len(); i++ {
		for _, c := range d.DateColumns {
			if t.Has(c) {
				t.Set(i, c, NormalizeDate(t.Value(i, c)))
			}
		}
		for _, c := range d.NumericColumns {
			if t.Has(c) {
				t.Set(i, c, NormalizeNumber(t.Value(i, c)))
			}
		}
	}
	return t.Filter(func(i int) bool {
		if t.IsBlankRow(i) {
			return false
		}
		if d.KeyColumn != "" && t.Has(d.KeyColumn) {
			return strings.TrimSpace(t.Value(i, d.KeyColumn)) != ""
		}
		return true
	})
}
