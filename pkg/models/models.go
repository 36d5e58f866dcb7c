package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PeriodLayout is the layout of a reporting period tag.
const PeriodLayout = "20060102"

// Period identifies one reporting batch as YYYYMMDD. Lexicographic order of
// valid periods is chronological order. The empty Period means "none".
type Period string

// ParsePeriod validates an 8-digit period tag.
func ParsePeriod(s string) (Period, error) {
	if len(s) != 8 {
		return "", fmt.Errorf("invalid period %q: want YYYYMMDD", s)
	}
	if _, err := time.Parse(PeriodLayout, s); err != nil {
		return "", fmt.Errorf("invalid period %q: %w", s, err)
	}
	return Period(s), nil
}

// IsZero reports whether p is the "none" period.
func (p Period) IsZero() bool { return p == "" }

// Date returns the period as a UTC midnight timestamp, or the zero time for an
// invalid tag.
func (p Period) Date() time.Time {
	t, err := time.Parse(PeriodLayout, string(p))
	if err != nil {
		return time.Time{}
	}
	return t
}

func (p Period) String() string { return string(p) }

// Category is one of the closed set of uploaded data categories.
type Category string

const (
	CategorySchedule        Category = "Schedule"
	CategoryCustomerDetails Category = "CustomerDetails"
	CategoryPayments        Category = "Payments"
	CategoryHPRepayments    Category = "HP_Repayments"
)

// RequiredCategories must all be present under one period tag for a raw upload
// to count as complete. Merge processes them in this order.
var RequiredCategories = []Category{
	CategorySchedule,
	CategoryCustomerDetails,
	CategoryPayments,
	CategoryHPRepayments,
}

// MaxAllocationSlots caps how many receivables of a loan one payment can reach.
const MaxAllocationSlots = 3

// Receivable is one scheduled installment row of the Schedule master.
type Receivable struct {
	Row                   int // position in the source dataset
	LoanID                string
	PurchaseDate          time.Time
	DueDate               time.Time
	AdvanceRate           decimal.Decimal
	Outstanding           decimal.Decimal
	PurchaseConsideration decimal.Decimal
	Entity                string
	Index                 int // 1-based position within the loan
}

// Payment is one cash receipt row of the Payments master.
type Payment struct {
	Row      int
	LoanID   string
	PaidDate time.Time
	// AmountPaid is invalid when the source cell was blank or unparseable.
	AmountPaid decimal.NullDecimal
}

// SlotAllocation is the share of a payment placed on one receivable slot.
type SlotAllocation struct {
	Amount         decimal.Decimal
	FullyAllocated bool
}

// UnallocatedReason explains why a payment placed nothing.
type UnallocatedReason string

const (
	ReasonNone            UnallocatedReason = ""
	ReasonInvalidInput    UnallocatedReason = "Invalid LoanID or corrupted data"
	ReasonNoReceivables   UnallocatedReason = "No receivables found for LoanID"
	ReasonZeroReceivables UnallocatedReason = "Zero or null receivables"
	ReasonAlreadySettled  UnallocatedReason = "Receivables already fully allocated"
	ReasonDuplicate       UnallocatedReason = "Duplicate payment for already settled receivable"
)

// PaymentAllocation is the waterfall result for a single payment.
type PaymentAllocation struct {
	Payment           Payment
	Slots             [MaxAllocationSlots]SlotAllocation
	Remaining         decimal.Decimal
	UnallocatedReason UnallocatedReason
}

// Allocated sums the amounts over all slots.
func (a PaymentAllocation) Allocated() decimal.Decimal {
	total := decimal.Zero
	for _, s := range a.Slots {
		total = total.Add(s.Amount)
	}
	return total
}

// RepurchaseKey identifies a repurchase ledger entry.
type RepurchaseKey struct {
	LoanID  string
	DueDate string // YYYY-MM-DD
}

// RepurchaseRecord is one entry of the cumulative repurchase ledger.
type RepurchaseRecord struct {
	LoanID         string
	DueDate        time.Time
	RepurchaseDate time.Time
	Finalized      bool
}

// Key returns the ledger key of r.
func (r RepurchaseRecord) Key() RepurchaseKey {
	return RepurchaseKey{LoanID: r.LoanID, DueDate: formatDay(r.DueDate)}
}

// ReceivableAllocated is one row of the per-period receivables output.
type ReceivableAllocated struct {
	Receivable
	AllocatedAmount       decimal.Decimal
	AllocationDate        time.Time
	RepurchaseDate        time.Time
	DaysPastDue           int
	MinimumRecoveryAmount decimal.NullDecimal
}

// HPRepayment is one repayment row of the HP_Repayments master.
type HPRepayment struct {
	Date             time.Time
	BankStatementRef string
	Amount           decimal.Decimal
	To               string
}

// Stage names a pipeline stage.
type Stage string

const (
	StageMerge               Stage = "merge_masters"
	StageSeed                Stage = "seed_masters"
	StagePaymentAllocation   Stage = "allocate_payments"
	StageReceivableAlloc     Stage = "allocate_receivables"
	StageRepurchaseFinalizer Stage = "finalize_repurchases"
	StageSummary             Stage = "summarize"
)

// RunStatus is the terminal state of a stage run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// StageRun is a journal entry for one stage invocation.
type StageRun struct {
	ID         uuid.UUID `json:"id"`
	Investor   string    `json:"investor"`
	Period     Period    `json:"period"`
	Stage      Stage     `json:"stage"`
	Status     RunStatus `json:"status"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Bucket is one arrears band of the summary.
type Bucket struct {
	Name       string          `json:"bucket"`
	MinDays    int             `json:"min_days"`
	Value      decimal.Decimal `json:"value"`
	Percentage decimal.Decimal `json:"percentage"`
}

// SummaryTotals are the portfolio figures reported next to the buckets.
type SummaryTotals struct {
	TotalDue         decimal.Decimal `json:"total_due"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	TotalPortfolio   decimal.Decimal `json:"total_portfolio"`
	TotalDueOnDate   decimal.Decimal `json:"total_due_on_date"`
	RepurchasedTotal decimal.Decimal `json:"repurchased_total"`
	RepurchasedLoans int             `json:"repurchased_loans"`
	TotalRepaid      decimal.Decimal `json:"total_repaid"`
}

// Summary is the arrears bucket table for one period and threshold.
type Summary struct {
	Investor  string        `json:"investor"`
	Period    Period        `json:"period"`
	Threshold int           `json:"threshold"`
	Buckets   []Bucket      `json:"buckets"`
	Totals    SummaryTotals `json:"totals"`
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
