package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/mcclellann/debiflow/pkg/config"
	"github.com/mcclellann/debiflow/pkg/models"
	"github.com/mcclellann/debiflow/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultThreshold disables simulated repurchases in practice.
const DefaultThreshold = 999

// bucketBands are the arrears bands in ascending order. Current holds loans
// with no arrears; every PAR band includes all higher ones.
var bucketBands = []struct {
	name    string
	minDays int
}{
	{"Current", 0},
	{"PAR1", 1},
	{"PAR7", 7},
	{"PAR30", 30},
	{"PAR60", 60},
	{"PAR90", 90},
	{"PAR120", 120},
	{"PAR150", 150},
	{"PAR180+", 180},
}

var hundred = decimal.NewFromInt(100)

// BuildSummary aggregates receivables into arrears bands. Rows at or beyond
// threshold without a repurchase date are treated as repurchased for display
// only. overrides replace the repurchase date of matching keys.
func BuildSummary(rows []models.ReceivableAllocated, repayments []models.HPRepayment, p models.Period, threshold int, overrides []models.RepurchaseRecord) models.Summary {
	if len(overrides) > 0 {
		replaced := make(map[models.RepurchaseKey]time.Time, len(overrides))
		for _, o := range overrides {
			replaced[o.Key()] = o.RepurchaseDate
		}
		adjusted := make([]models.ReceivableAllocated, len(rows))
		for i, r := range rows {
			if d, ok := replaced[models.RepurchaseRecord{LoanID: r.LoanID, DueDate: r.DueDate}.Key()]; ok {
				r.RepurchaseDate = d
			}
			adjusted[i] = r
		}
		rows = adjusted
	}

	var totals models.SummaryTotals
	for _, r := range rows {
		if r.MinimumRecoveryAmount.Valid {
			totals.TotalDue = totals.TotalDue.Add(r.MinimumRecoveryAmount.Decimal)
		}
	}
	for _, h := range repayments {
		totals.TotalPaid = totals.TotalPaid.Add(h.Amount)
	}

	reportDate := p.Date()
	repurchasedLoans := make(map[string]struct{})
	for _, r := range rows {
		if r.RepurchaseDate.IsZero() || !r.RepurchaseDate.Equal(reportDate) {
			continue
		}
		if r.MinimumRecoveryAmount.Valid {
			totals.RepurchasedTotal = totals.RepurchasedTotal.Add(r.MinimumRecoveryAmount.Decimal)
		}
		repurchasedLoans[r.LoanID] = struct{}{}
	}
	totals.RepurchasedLoans = len(repurchasedLoans)
	totals.TotalDueOnDate = totals.TotalDue.Sub(totals.TotalPaid)
	totals.TotalRepaid = decimal.Max(decimal.Zero, totals.TotalDueOnDate.Sub(totals.RepurchasedTotal))

	var unrepaid []models.ReceivableAllocated
	worst := make(map[string]int)
	for _, r := range rows {
		simulated := r.DaysPastDue >= threshold && r.RepurchaseDate.IsZero()
		if !r.AllocationDate.IsZero() || !r.RepurchaseDate.IsZero() || simulated {
			continue
		}
		unrepaid = append(unrepaid, r)
		if d, ok := worst[r.LoanID]; !ok || r.DaysPastDue > d {
			worst[r.LoanID] = r.DaysPastDue
		}
	}
	for _, r := range unrepaid {
		totals.TotalPortfolio = totals.TotalPortfolio.Add(r.PurchaseConsideration)
	}

	buckets := make([]models.Bucket, 0, len(bucketBands))
	for _, band := range bucketBands {
		value := decimal.Zero
		for _, r := range unrepaid {
			d := worst[r.LoanID]
			if (band.minDays == 0 && d == 0) || (band.minDays > 0 && d >= band.minDays) {
				value = value.Add(r.PurchaseConsideration)
			}
		}
		pct := decimal.Zero
		if totals.TotalPortfolio.IsPositive() {
			pct = value.Div(totals.TotalPortfolio).Mul(hundred).Round(2)
		}
		buckets = append(buckets, models.Bucket{Name: band.name, MinDays: band.minDays, Value: value, Percentage: pct})
	}

	return models.Summary{
		Period:    p,
		Threshold: threshold,
		Buckets:   buckets,
		Totals:    totals,
	}
}

// Summarize builds the arrears summary of reportPeriod from its
// Receivables_Allocated output and HP_Repayments master.
func (l *Ledger) Summarize(ctx context.Context, investor string, reportPeriod models.Period, threshold int) (models.Summary, error) {
	start := l.now()
	summary, err := l.summarize(ctx, investor, reportPeriod, threshold)
	status := models.RunSucceeded
	if err != nil {
		status = models.RunFailed
		config.LogError(l.logger, "ledger", "Summarize", investor+"/"+string(reportPeriod), threshold, err)
	}
	l.metrics.ObserveStage(string(models.StageSummary), string(status), l.now().Sub(start))
	return summary, err
}

func (l *Ledger) summarize(ctx context.Context, investor string, reportPeriod models.Period, threshold int) (models.Summary, error) {
	if err := requirePeriod(reportPeriod, "report period"); err != nil {
		return models.Summary{}, err
	}
	if threshold < 0 {
		return models.Summary{}, fmt.Errorf("invalid threshold %d: must not be negative", threshold)
	}
	receivablesPath := store.InvestorPath(investor, store.FolderOutputs, store.ReceivablesAllocatedFileName(reportPeriod))
	repaymentsPath := store.InvestorPath(investor, store.FolderMaster, store.MasterFileName(models.CategoryHPRepayments, reportPeriod))

	t, err := l.loadRequired(ctx, receivablesPath)
	if err != nil {
		return models.Summary{}, err
	}
	rows, err := decodeReceivablesAllocated(t, receivablesPath)
	if err != nil {
		return models.Summary{}, err
	}
	t, err = l.loadRequired(ctx, repaymentsPath)
	if err != nil {
		return models.Summary{}, err
	}
	repayments, err := decodeHPRepayments(t, repaymentsPath)
	if err != nil {
		return models.Summary{}, err
	}

	summary := BuildSummary(rows, repayments, reportPeriod, threshold, nil)
	summary.Investor = investor
	l.logger.WithFields(logrus.Fields{
		"investor":  investor,
		"period":    string(reportPeriod),
		"threshold": threshold,
		"portfolio": summary.Totals.TotalPortfolio.StringFixed(2),
	}).Info("summary built")
	return summary, nil
}
