package ledger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/mcclellann/debiflow/pkg/dataset"
	"github.com/mcclellann/debiflow/pkg/models"
	"github.com/mcclellann/debiflow/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const investor = "acme"

var (
	prior  = models.Period("20240131")
	report = models.Period("20240229")
)

const (
	scheduleCSV = "LoanID,Purchase_Date,Due_Date,Advance_Rate,Receivable_Outstandings,Purchase_Consideration,entity\n" +
		"L1,2023-10-01,2023-11-01,0.10,100.00,1000.00,E1\n" +
		"L1,2023-10-01,2024-02-15,0.10,50.00,500.00,E1\n" +
		"L2,2023-10-01,2023-11-25,0.10,80.00,800.00,E2\n"
	paymentsCSV = "LoanID,Paid_Date,Amount_Paid\n" +
		"L9,2024-02-06,10\n" +
		"L1,2024-02-05,120\n"
	customersCSV  = "LoanID,Name\nL1,Alice\nL2,Bob\n"
	repaymentsCSV = "HP_Repayment_Date,BankStatement_Ref,HP_Repayment_Amount,To\n" +
		"2024-02-10,REF1,120.00,Facility\n"
)

func newTestLedger(t *testing.T) (*Ledger, *store.MemoryStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := store.NewMemoryStore()
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return NewLedger(s, logger, WithJournal(s), WithClock(func() time.Time { return clock })), s
}

func put(t *testing.T, s store.BlobStore, path, content string) {
	t.Helper()
	if err := s.Write(context.Background(), path, []byte(content), dataset.ContentType); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func get(t *testing.T, s store.BlobStore, path string) *dataset.Table {
	t.Helper()
	data, err := s.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	tbl, err := dataset.Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode %s: %v", path, err)
	}
	return tbl
}

func raw(c models.Category, p models.Period) string {
	return store.InvestorPath(investor, store.FolderRaw, store.RawFileName(c, p))
}

func master(c models.Category, p models.Period) string {
	return store.InvestorPath(investor, store.FolderMaster, store.MasterFileName(c, p))
}

func uploadPeriod(t *testing.T, s store.BlobStore, p models.Period) {
	t.Helper()
	put(t, s, raw(models.CategorySchedule, p), scheduleCSV)
	put(t, s, raw(models.CategoryPayments, p), paymentsCSV)
	put(t, s, raw(models.CategoryCustomerDetails, p), customersCSV)
	put(t, s, raw(models.CategoryHPRepayments, p), repaymentsCSV)
}

// confirmed seeds the prior period and confirms the report period.
func confirmed(t *testing.T) (*Ledger, *store.MemoryStore) {
	t.Helper()
	l, s := newTestLedger(t)
	ctx := context.Background()
	if _, err := l.SeedMasters(ctx, investor, prior); err != nil {
		t.Fatalf("Failed to seed masters: %v", err)
	}
	uploadPeriod(t, s, report)
	if _, err := l.ConfirmPeriod(ctx, investor, report); err != nil {
		t.Fatalf("Failed to confirm period: %v", err)
	}
	return l, s
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) time.Time {
	d, ok := dataset.ParseDate(s)
	if !ok {
		panic("bad date " + s)
	}
	return d
}

func receivable(loan string, index int, due, outstanding string) models.Receivable {
	return models.Receivable{LoanID: loan, Index: index, DueDate: day(due), Outstanding: money(outstanding)}
}

func payment(loan, paid, amount string) models.Payment {
	p := models.Payment{LoanID: loan, PaidDate: day(paid)}
	if amount != "" {
		p.AmountPaid = decimal.NewNullDecimal(money(amount))
	}
	return p
}

func TestAllocateWaterfall(t *testing.T) {
	receivables := []models.Receivable{
		receivable("L1", 2, "2024-02-01", "50.00"),
		receivable("L1", 1, "2024-01-01", "100.00"),
	}
	allocations := AllocateWaterfall(receivables, []models.Payment{
		payment("L1", "2024-02-10", "30.00"),
		payment("L1", "2024-02-05", "120.00"),
		payment("L1", "2024-02-20", "10.00"),
	})
	if len(allocations) != 3 {
		t.Fatalf("Expected 3 allocations, got %d", len(allocations))
	}

	first := allocations[0]
	if !first.Slots[0].Amount.Equal(money("100")) || !first.Slots[1].Amount.Equal(money("20")) {
		t.Errorf("Expected [100, 20], got [%s, %s]", first.Slots[0].Amount, first.Slots[1].Amount)
	}
	if !first.Slots[0].FullyAllocated || first.Slots[1].FullyAllocated {
		t.Errorf("Expected flags [true, false], got [%v, %v]", first.Slots[0].FullyAllocated, first.Slots[1].FullyAllocated)
	}
	if !first.Remaining.IsZero() {
		t.Errorf("Expected nothing remaining, got %s", first.Remaining)
	}

	second := allocations[1]
	if !second.Slots[0].Amount.IsZero() || !second.Slots[1].Amount.Equal(money("30")) {
		t.Errorf("Expected [0, 30], got [%s, %s]", second.Slots[0].Amount, second.Slots[1].Amount)
	}
	if second.Slots[0].FullyAllocated || !second.Slots[1].FullyAllocated {
		t.Errorf("Expected flags [false, true], got [%v, %v]", second.Slots[0].FullyAllocated, second.Slots[1].FullyAllocated)
	}

	if allocations[2].UnallocatedReason != models.ReasonAlreadySettled {
		t.Errorf("Expected %q, got %q", models.ReasonAlreadySettled, allocations[2].UnallocatedReason)
	}
}

func TestAllocateWaterfallReasons(t *testing.T) {
	receivables := []models.Receivable{
		receivable("L1", 1, "2024-01-01", "100.00"),
		receivable("Z", 1, "2024-01-01", "0"),
		receivable("D", 1, "2024-01-01", "10.00"),
		receivable("D", 2, "2024-01-02", "10.00"),
		receivable("D", 3, "2024-01-03", "10.00"),
		receivable("D", 4, "2024-01-04", "10.00"),
	}
	allocations := AllocateWaterfall(receivables, []models.Payment{
		payment("NOPE", "2024-02-01", "50.00"),
		payment("L1", "2024-02-01", ""),
		payment("L1", "2024-02-02", "-5"),
		payment("", "2024-02-01", "5"),
		payment("Z", "2024-02-01", "5"),
		payment("D", "2024-02-01", "30.00"),
		payment("D", "2024-02-02", "5.00"),
	})

	got := make(map[string][]models.UnallocatedReason)
	for _, a := range allocations {
		got[a.Payment.LoanID] = append(got[a.Payment.LoanID], a.UnallocatedReason)
		if a.UnallocatedReason != models.ReasonNone && !a.Allocated().IsZero() {
			t.Errorf("Payment %q has reason %q but allocated %s", a.Payment.LoanID, a.UnallocatedReason, a.Allocated())
		}
	}
	assert.Equal(t, []models.UnallocatedReason{models.ReasonNoReceivables}, got["NOPE"])
	assert.Equal(t, []models.UnallocatedReason{models.ReasonInvalidInput, models.ReasonInvalidInput}, got["L1"])
	assert.Equal(t, []models.UnallocatedReason{models.ReasonInvalidInput}, got[""])
	assert.Equal(t, []models.UnallocatedReason{models.ReasonZeroReceivables}, got["Z"])
	// The fourth receivable is beyond the slot cap and stays open.
	assert.Equal(t, []models.UnallocatedReason{models.ReasonNone, models.ReasonDuplicate}, got["D"])
	assert.Equal(t, "", allocations[len(allocations)-1].Payment.LoanID, "blank LoanIDs sort last")
}

func TestAllocateWaterfallNeverOverAllocates(t *testing.T) {
	receivables := []models.Receivable{
		receivable("L1", 1, "2024-01-01", "33.33"),
		receivable("L1", 2, "2024-02-01", "33.33"),
		receivable("L1", 3, "2024-03-01", "33.34"),
	}
	var payments []models.Payment
	for i := 0; i < 12; i++ {
		payments = append(payments, payment("L1", time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC).Format(dataset.DateLayout), "9.99"))
	}

	totals := make([]decimal.Decimal, 3)
	flags := make([]int, 3)
	for _, a := range AllocateWaterfall(receivables, payments) {
		for i, s := range a.Slots {
			if s.Amount.IsNegative() {
				t.Errorf("Negative allocation %s", s.Amount)
			}
			totals[i] = totals[i].Add(s.Amount)
			if s.FullyAllocated {
				flags[i]++
			}
		}
	}
	for i, r := range receivables {
		if totals[i].GreaterThan(r.Outstanding.Add(Tolerance)) {
			t.Errorf("Receivable %d allocated %s over outstanding %s", i+1, totals[i], r.Outstanding)
		}
		if flags[i] != 1 {
			t.Errorf("Expected flag %d to fire once, fired %d times", i+1, flags[i])
		}
	}
}

func TestMinimumRecovery(t *testing.T) {
	got := MinimumRecovery(money("1000"), money("0.10"), 73)
	if got.StringFixed(2) != "1020.00" {
		t.Errorf("Expected 1020.00, got %s", got.StringFixed(2))
	}
}

func TestComputeReceivables(t *testing.T) {
	base := models.Receivable{PurchaseDate: day("2024-01-01"), AdvanceRate: money("0.10"), PurchaseConsideration: money("1000")}
	paid, open, bought, stale := base, base, base, base
	paid.LoanID, paid.Index, paid.DueDate = "L1", 1, day("2024-01-15")
	open.LoanID, open.Index, open.DueDate = "L1", 2, day("2024-02-01")
	bought.LoanID, bought.Index, bought.DueDate = "L2", 1, day("2023-12-01")
	stale.LoanID, stale.Index, stale.DueDate = "L3", 1, day("2023-12-01")

	slots := map[slotKey]slotAllocation{
		{LoanID: "L1", Index: 1}: {Amount: money("100"), Date: "2024-03-14"},
	}
	priorLedger := []models.RepurchaseRecord{
		{LoanID: "L2", DueDate: day("2023-12-01"), RepurchaseDate: day("2024-01-31"), Finalized: true},
		{LoanID: "L3", DueDate: day("2023-12-01"), RepurchaseDate: day("2024-01-31"), Finalized: false},
	}
	currentLedger := []models.RepurchaseRecord{
		{LoanID: "L2", DueDate: day("2023-12-01"), RepurchaseDate: day("2024-03-14"), Finalized: true},
	}

	rows := computeReceivables([]models.Receivable{paid, open, bought, stale}, slots, priorLedger, currentLedger, report.Date())
	require.Len(t, rows, 4)

	assert.Equal(t, 0, rows[0].DaysPastDue)
	assert.Equal(t, "1020.00", dataset.FormatNullMoney(rows[0].MinimumRecoveryAmount))

	assert.Equal(t, 28, rows[1].DaysPastDue)
	assert.False(t, rows[1].MinimumRecoveryAmount.Valid)

	assert.Equal(t, day("2024-03-14"), rows[2].RepurchaseDate, "current ledger overrides prior")
	assert.Equal(t, 0, rows[2].DaysPastDue)
	assert.Equal(t, "1020.00", dataset.FormatNullMoney(rows[2].MinimumRecoveryAmount))

	assert.True(t, rows[3].RepurchaseDate.IsZero(), "unfinalized records are ignored")
	assert.Equal(t, 90, rows[3].DaysPastDue)
}

func TestComputeReceivablesGuardsCutoff(t *testing.T) {
	r := models.Receivable{LoanID: "L1", Index: 1, PurchaseDate: day("2024-01-01"), DueDate: day("2024-01-15"),
		AdvanceRate: money("0.10"), PurchaseConsideration: money("1000")}
	slots := map[slotKey]slotAllocation{{LoanID: "L1", Index: 1}: {Amount: money("5"), Date: "2200-01-01"}}

	rows := computeReceivables([]models.Receivable{r}, slots, nil, nil, report.Date())
	if got := dataset.FormatNullMoney(rows[0].MinimumRecoveryAmount); got != "1000.00" {
		t.Errorf("Expected out-of-range cutoff to accrue nothing, got %s", got)
	}
}

func TestMergeMasters(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()

	put(t, s, master(models.CategorySchedule, prior),
		"LoanID,Purchase_Date,Due_Date,Advance_Rate,Receivable_Outstandings,Purchase_Consideration,entity\n"+
			"L0,2023-09-01,2023-10-01,0.10,10.00,100.00,E0\n")
	put(t, s, master(models.CategoryPayments, prior), "LoanID,Paid_Date,Amount_Paid\nL0,2023-10-01,10\n")
	put(t, s, master(models.CategoryCustomerDetails, prior), "")
	put(t, s, master(models.CategoryHPRepayments, prior), "HP_Repayment_Date,BankStatement_Ref,HP_Repayment_Amount,To\n")
	put(t, s, raw(models.CategorySchedule, report),
		"\ufeff entity ,LoanID,Purchase_Date,Due_Date,Advance_Rate,Receivable_Outstandings,Purchase_Consideration\n"+
			"E1,L1,2023/10/01,2023-11-01,0.10,100.00,1000.00\n"+
			",,,,,,\n"+
			"E1,,2023-10-01,2023-11-01,0.10,1.00,1.00\n")
	put(t, s, raw(models.CategoryPayments, report), paymentsCSV)
	put(t, s, raw(models.CategoryCustomerDetails, report), customersCSV)
	put(t, s, raw(models.CategoryHPRepayments, report), repaymentsCSV)

	written, err := l.MergeMasters(ctx, investor, report, prior)
	if err != nil {
		t.Fatalf("Failed to merge masters: %v", err)
	}
	assert.Equal(t, []string{
		"Schedule_Master_20240229.csv",
		"CustomerDetails_Master_20240229.csv",
		"Payments_Master_20240229.csv",
		"HP_Repayments_Master_20240229.csv",
	}, written)

	schedule := get(t, s, master(models.CategorySchedule, report))
	assert.Equal(t, dataset.New(
		"LoanID", "Purchase_Date", "Due_Date", "Advance_Rate", "Receivable_Outstandings", "Purchase_Consideration", "entity",
	).Columns(), schedule.Columns())
	require.Equal(t, 2, schedule.Len())
	assert.Equal(t, "L0", schedule.Value(0, dataset.ColLoanID), "prior rows come first")
	assert.Equal(t, "L1", schedule.Value(1, dataset.ColLoanID))
	assert.Equal(t, "2023-10-01", schedule.Value(1, dataset.ColPurchaseDate))
	assert.Equal(t, "E1", schedule.Value(1, dataset.ColEntity))

	customers := get(t, s, master(models.CategoryCustomerDetails, report))
	assert.Equal(t, []string{"LoanID", "Name"}, customers.Columns())
	assert.Equal(t, 2, customers.Len())

	payments := get(t, s, master(models.CategoryPayments, report))
	assert.Equal(t, 3, payments.Len())
}

func TestMergeMastersRequiresPrior(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.MergeMasters(context.Background(), investor, report, "")
	if !errors.Is(err, ErrMissingPrecondition) {
		t.Fatalf("Expected missing precondition, got %v", err)
	}
}

func TestMergeMastersWritesNothingOnFailure(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	if _, err := l.SeedMasters(ctx, investor, prior); err != nil {
		t.Fatalf("Failed to seed masters: %v", err)
	}
	put(t, s, raw(models.CategorySchedule, report), scheduleCSV)
	put(t, s, raw(models.CategoryCustomerDetails, report), customersCSV)
	put(t, s, raw(models.CategoryHPRepayments, report), repaymentsCSV)

	_, err := l.MergeMasters(ctx, investor, report, prior)
	if !errors.Is(err, ErrMissingPrecondition) {
		t.Fatalf("Expected missing precondition, got %v", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != string(models.CategoryPayments) {
		t.Errorf("Expected failure attributed to Payments, got %v", err)
	}
	ok, _ := s.Exists(ctx, master(models.CategorySchedule, report))
	if ok {
		t.Error("Expected no master to be written when a category fails")
	}
}

func TestMergeMastersRejectsColumnMismatch(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	if _, err := l.SeedMasters(ctx, investor, prior); err != nil {
		t.Fatalf("Failed to seed masters: %v", err)
	}
	uploadPeriod(t, s, report)
	put(t, s, raw(models.CategoryPayments, report), "LoanID,Paid_Date,Amount_Paid,Channel\nL1,2024-02-05,120,bank\n")

	_, err := l.MergeMasters(ctx, investor, report, prior)
	if !errors.Is(err, ErrParseFailure) {
		t.Fatalf("Expected parse failure, got %v", err)
	}
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, raw(models.CategoryPayments, report), parseErr.Artifact)
}

func TestSeedMastersRefusesOverwrite(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	if _, err := l.SeedMasters(ctx, investor, prior); err != nil {
		t.Fatalf("Failed to seed masters: %v", err)
	}
	schedule := get(t, s, master(models.CategorySchedule, prior))
	assert.Equal(t, 0, schedule.Len())
	assert.True(t, schedule.Has(dataset.ColReceivableOutstanding))

	if _, err := l.SeedMasters(ctx, investor, prior); !errors.Is(err, ErrAlreadySeeded) {
		t.Errorf("Expected ErrAlreadySeeded, got %v", err)
	}
}

func TestConfirmPeriodAllocates(t *testing.T) {
	_, s := confirmed(t)

	payments := get(t, s, store.InvestorPath(investor, store.FolderOutputs, store.PaymentsAllocatedFileName(report)))
	require.Equal(t, 2, payments.Len())
	assert.Equal(t, "L1", payments.Value(0, dataset.ColLoanID))
	assert.Equal(t, "100.00", payments.Value(0, dataset.AllocationAmountColumn(1)))
	assert.Equal(t, "20.00", payments.Value(0, dataset.AllocationAmountColumn(2)))
	assert.Equal(t, "0.00", payments.Value(0, dataset.AllocationAmountColumn(3)))
	assert.Equal(t, "1", payments.Value(0, dataset.AllocationFlagColumn(1)))
	assert.Equal(t, "0", payments.Value(0, dataset.AllocationFlagColumn(2)))
	assert.Equal(t, "", payments.Value(0, dataset.ColUnallocatedReason))
	assert.Equal(t, "L9", payments.Value(1, dataset.ColLoanID))
	assert.Equal(t, string(models.ReasonNoReceivables), payments.Value(1, dataset.ColUnallocatedReason))

	recv := get(t, s, store.InvestorPath(investor, store.FolderOutputs, store.ReceivablesAllocatedFileName(report)))
	require.Equal(t, 3, recv.Len())
	assert.Equal(t, []string{"1", "2", "1"}, column(recv, dataset.ColReceivableIndex))
	assert.Equal(t, []string{"100.00", "0.00", "0.00"}, column(recv, dataset.ColPaymentAllocated))
	assert.Equal(t, []string{"2024-02-05", "", ""}, column(recv, dataset.ColAllocationDate))
	assert.Equal(t, []string{"0", "14", "96"}, column(recv, dataset.ColDaysPastDue))
	assert.Equal(t, []string{"1034.79", "", ""}, column(recv, dataset.ColMinimumRecoveryAmount))
}

func column(t *dataset.Table, name string) []string {
	out := make([]string, t.Len())
	for i := range out {
		out[i] = t.Value(i, name)
	}
	return out
}

func TestConfirmPeriodRequiresCompleteUpload(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	if _, err := l.SeedMasters(ctx, investor, prior); err != nil {
		t.Fatalf("Failed to seed masters: %v", err)
	}
	put(t, s, raw(models.CategorySchedule, report), scheduleCSV)

	if _, err := l.ConfirmPeriod(ctx, investor, report); !errors.Is(err, ErrMissingPrecondition) {
		t.Errorf("Expected missing precondition, got %v", err)
	}
}

func TestAllocationIsIdempotent(t *testing.T) {
	l, s := confirmed(t)
	ctx := context.Background()
	paymentsPath := store.InvestorPath(investor, store.FolderOutputs, store.PaymentsAllocatedFileName(report))
	recvPath := store.InvestorPath(investor, store.FolderOutputs, store.ReceivablesAllocatedFileName(report))

	before := map[string][]byte{}
	for _, p := range []string{paymentsPath, recvPath} {
		data, _ := s.Read(ctx, p)
		before[p] = data
	}
	if _, err := l.AllocatePayments(ctx, investor, report); err != nil {
		t.Fatalf("Failed to allocate payments: %v", err)
	}
	if _, err := l.AllocateReceivables(ctx, investor, report, prior); err != nil {
		t.Fatalf("Failed to allocate receivables: %v", err)
	}
	for p, want := range before {
		got, _ := s.Read(ctx, p)
		if !bytes.Equal(want, got) {
			t.Errorf("Expected %s to be unchanged on rerun", p)
		}
	}
}

func TestAllocateReceivablesRequiresPriorPeriod(t *testing.T) {
	l, _ := confirmed(t)
	_, err := l.AllocateReceivables(context.Background(), investor, report, "")
	if !errors.Is(err, ErrMissingPrecondition) {
		t.Errorf("Expected missing precondition, got %v", err)
	}
}

func TestAllocatePaymentsRejectsBadNumbers(t *testing.T) {
	l, s := confirmed(t)
	put(t, s, master(models.CategorySchedule, report),
		"LoanID,Purchase_Date,Due_Date,Advance_Rate,Receivable_Outstandings,Purchase_Consideration,entity\n"+
			"L1,2023-10-01,2023-11-01,0.10,lots,1000.00,E1\n")

	_, err := l.AllocatePayments(context.Background(), investor, report)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Expected parse error, got %v", err)
	}
	assert.Equal(t, dataset.ColReceivableOutstanding, parseErr.Column)
	assert.Equal(t, 1, parseErr.Row)
}

func TestFinalizeRepurchases(t *testing.T) {
	l, s := confirmed(t)
	ctx := context.Background()

	n, err := l.FinalizeRepurchases(ctx, investor, report, prior, 90)
	if err != nil {
		t.Fatalf("Failed to finalize repurchases: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 finalized repurchase, got %d", n)
	}

	ledgerPath := store.InvestorPath(investor, store.FolderMaster, store.RepurchasesFileName(report))
	entries := get(t, s, ledgerPath)
	assert.Equal(t, dataset.RepurchaseColumns, entries.Columns())
	require.Equal(t, 1, entries.Len())
	assert.Equal(t, []string{"L2", "2023-11-25", "2024-02-29", "TRUE"}, entries.Row(0))

	recv := get(t, s, store.InvestorPath(investor, store.FolderOutputs, store.ReceivablesAllocatedFileName(report)))
	assert.Equal(t, []string{"0", "14", "0"}, column(recv, dataset.ColDaysPastDue))
	assert.Equal(t, []string{"", "", "2024-02-29"}, column(recv, dataset.ColRepurchaseDate))
	assert.Equal(t, []string{"1034.79", "", "833.10"}, column(recv, dataset.ColMinimumRecoveryAmount))

	// A second pass finds nothing new and keeps the ledger.
	n, err = l.FinalizeRepurchases(ctx, investor, report, prior, 90)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, get(t, s, ledgerPath).Len())
}

func TestFinalizeRepurchasesRejectsNegativeThreshold(t *testing.T) {
	l, _ := confirmed(t)
	if _, err := l.FinalizeRepurchases(context.Background(), investor, report, prior, -1); err == nil {
		t.Error("Expected an error for a negative threshold")
	}
}

func TestMergeLedgerKeepsLast(t *testing.T) {
	older := []models.RepurchaseRecord{
		{LoanID: "A", DueDate: day("2024-01-01"), RepurchaseDate: day("2024-01-31"), Finalized: true},
		{LoanID: "B", DueDate: day("2024-01-01"), RepurchaseDate: day("2024-01-31"), Finalized: true},
	}
	newer := []models.RepurchaseRecord{
		{LoanID: "A", DueDate: day("2024-01-01"), RepurchaseDate: day("2024-02-29"), Finalized: true},
		{LoanID: "C", DueDate: day("2024-02-01"), RepurchaseDate: day("2024-02-29"), Finalized: true},
	}
	merged := MergeLedger(older, newer)
	require.Len(t, merged, 3)
	assert.Equal(t, "B", merged[0].LoanID)
	assert.Equal(t, "A", merged[1].LoanID)
	assert.Equal(t, day("2024-02-29"), merged[1].RepurchaseDate)
	assert.Equal(t, "C", merged[2].LoanID)

	// Every earlier key survives into the later ledger.
	keys := map[models.RepurchaseKey]bool{}
	for _, r := range merged {
		keys[r.Key()] = true
	}
	for _, r := range older {
		assert.True(t, keys[r.Key()], "key %v dropped", r.Key())
	}
}

func TestMergeLedgerKeepsFinalized(t *testing.T) {
	finalized := models.RepurchaseRecord{LoanID: "A", DueDate: day("2024-01-01"), RepurchaseDate: day("2024-01-31"), Finalized: true}
	pending := models.RepurchaseRecord{LoanID: "A", DueDate: day("2024-01-01")}
	pendingB := models.RepurchaseRecord{LoanID: "B", DueDate: day("2024-01-01")}
	finalizedB := models.RepurchaseRecord{LoanID: "B", DueDate: day("2024-01-01"), RepurchaseDate: day("2024-02-29"), Finalized: true}

	merged := MergeLedger([]models.RepurchaseRecord{finalized, pendingB}, []models.RepurchaseRecord{pending, finalizedB})
	require.Len(t, merged, 2)
	assert.Equal(t, finalized, merged[0], "a pending record must not replace a finalized one")
	assert.Equal(t, finalizedB, merged[1], "a finalized record replaces a pending one")
}

func TestFinalizeRepurchasesKeepsPriorEvidence(t *testing.T) {
	l, s := confirmed(t)
	ctx := context.Background()
	priorLedger := store.InvestorPath(investor, store.FolderMaster, store.RepurchasesFileName(prior))
	currentLedger := store.InvestorPath(investor, store.FolderMaster, store.RepurchasesFileName(report))
	put(t, s, priorLedger, "LoanID,Due_Date,Repurchase_Date,Finalized\nL2,2023-11-25,2024-01-31,TRUE\n")
	put(t, s, currentLedger, "LoanID,Due_Date,Repurchase_Date,Finalized\nL2,2023-11-25,,FALSE\n")

	n, err := l.FinalizeRepurchases(ctx, investor, report, prior, DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	entries := get(t, s, currentLedger)
	require.Equal(t, 1, entries.Len())
	assert.Equal(t, []string{"L2", "2023-11-25", "2024-01-31", "TRUE"}, entries.Row(0))
}

func TestSummarize(t *testing.T) {
	l, _ := confirmed(t)
	ctx := context.Background()
	if _, err := l.FinalizeRepurchases(ctx, investor, report, prior, 90); err != nil {
		t.Fatalf("Failed to finalize repurchases: %v", err)
	}

	summary, err := l.Summarize(ctx, investor, report, DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, investor, summary.Investor)

	values := map[string]string{}
	for _, b := range summary.Buckets {
		values[b.Name] = b.Value.StringFixed(2) + "/" + b.Percentage.StringFixed(2)
	}
	assert.Equal(t, "0.00/0.00", values["Current"])
	assert.Equal(t, "500.00/100.00", values["PAR1"])
	assert.Equal(t, "500.00/100.00", values["PAR7"])
	assert.Equal(t, "0.00/0.00", values["PAR30"])

	totals := summary.Totals
	assert.Equal(t, "1867.89", totals.TotalDue.StringFixed(2))
	assert.Equal(t, "120.00", totals.TotalPaid.StringFixed(2))
	assert.Equal(t, "500.00", totals.TotalPortfolio.StringFixed(2))
	assert.Equal(t, "1747.89", totals.TotalDueOnDate.StringFixed(2))
	assert.Equal(t, "833.10", totals.RepurchasedTotal.StringFixed(2))
	assert.Equal(t, 1, totals.RepurchasedLoans)
	assert.Equal(t, "914.79", totals.TotalRepaid.StringFixed(2))
}

func TestBuildSummaryBucketsAreCumulative(t *testing.T) {
	var rows []models.ReceivableAllocated
	for i, dpd := range []int{0, 3, 8, 45, 61, 95, 130, 151, 200, 400} {
		r := models.ReceivableAllocated{DaysPastDue: dpd}
		r.LoanID = string(rune('A' + i))
		r.PurchaseConsideration = decimal.NewFromInt(int64(100 * (i + 1)))
		rows = append(rows, r)
	}

	summary := BuildSummary(rows, nil, report, DefaultThreshold, nil)
	require.Len(t, summary.Buckets, 9)
	for i := 2; i < len(summary.Buckets); i++ {
		prev, cur := summary.Buckets[i-1], summary.Buckets[i]
		if cur.Value.GreaterThan(prev.Value) {
			t.Errorf("Bucket %s (%s) exceeds %s (%s)", cur.Name, cur.Value, prev.Name, prev.Value)
		}
	}
	assert.Equal(t, "100", summary.Buckets[0].Value.String())

	// Simulated repurchases leave the portfolio without touching the rows.
	simulated := BuildSummary(rows, nil, report, 180, nil)
	assert.True(t, simulated.Totals.TotalPortfolio.LessThan(summary.Totals.TotalPortfolio))
	assert.Equal(t, 400, rows[9].DaysPastDue)
	assert.True(t, rows[9].RepurchaseDate.IsZero())
}

func TestBuildSummaryOverrides(t *testing.T) {
	r := models.ReceivableAllocated{DaysPastDue: 10}
	r.LoanID, r.DueDate, r.PurchaseConsideration = "L1", day("2024-01-01"), money("100")
	r.MinimumRecoveryAmount = decimal.NewNullDecimal(money("105"))
	other := r
	other.LoanID = "L2"

	overrides := []models.RepurchaseRecord{{LoanID: "L1", DueDate: day("2024-01-01"), RepurchaseDate: report.Date(), Finalized: true}}
	summary := BuildSummary([]models.ReceivableAllocated{r, other}, nil, report, DefaultThreshold, overrides)
	assert.Equal(t, "100.00", summary.Totals.TotalPortfolio.StringFixed(2))
	assert.Equal(t, "105.00", summary.Totals.RepurchasedTotal.StringFixed(2))
	assert.Equal(t, 1, summary.Totals.RepurchasedLoans)
}

func TestStageRunsAreJournaled(t *testing.T) {
	l, _ := confirmed(t)
	ctx := context.Background()
	_, _ = l.AllocateReceivables(ctx, investor, report, "")

	runs, err := l.Runs(ctx, investor)
	require.NoError(t, err)
	var stages []models.Stage
	for _, r := range runs {
		stages = append(stages, r.Stage)
	}
	assert.Equal(t, []models.Stage{
		models.StageSeed,
		models.StageMerge,
		models.StagePaymentAllocation,
		models.StageReceivableAlloc,
		models.StageReceivableAlloc,
	}, stages)

	last := runs[len(runs)-1]
	assert.Equal(t, models.RunFailed, last.Status)
	assert.Contains(t, last.Error, "prior report period")
	assert.Equal(t, models.RunSucceeded, runs[3].Status)
	assert.Contains(t, runs[3].Output, "Receivables_Allocated_20240229.csv")
}

func TestListInvestors(t *testing.T) {
	l, s := newTestLedger(t)
	put(t, s, raw(models.CategorySchedule, report), scheduleCSV)
	put(t, s, "Investors/beta/raw/Schedule_20240229.csv", scheduleCSV)
	put(t, s, "Investors/beta/master/Schedule_Master_20240131.csv", scheduleCSV)
	put(t, s, "elsewhere/file.csv", "x")

	investors, err := l.ListInvestors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "beta"}, investors)
}
