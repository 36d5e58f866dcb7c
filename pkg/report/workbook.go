package report

import (
	"fmt"

	"github.com/mcclellann/debiflow/pkg/models"
	"github.com/xuri/excelize/v2"
)

// WorkbookContentType is the MIME type of SummaryWorkbook output.
const WorkbookContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	summarySheet = "Summary"
	totalsSheet  = "Totals"
)

// SummaryWorkbook renders the bucket table and the portfolio totals as an
// xlsx workbook.
func SummaryWorkbook(s models.Summary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(totalsSheet); err != nil {
		return nil, err
	}

	rows := [][]any{{"Bucket", "Value", "Percentage of Total"}}
	for _, b := range s.Buckets {
		rows = append(rows, []any{b.Name, FormatAmount(b.Value), FormatPercent(b.Percentage)})
	}
	rows = append(rows, []any{"Total", FormatAmount(s.Totals.TotalPortfolio), "100.00%"})
	if err := writeRows(f, summarySheet, rows); err != nil {
		return nil, err
	}

	t := s.Totals
	totals := [][]any{
		{"Investor", s.Investor},
		{"Report Period", string(s.Period)},
		{"DPD Threshold", s.Threshold},
		{"Total Due", FormatAmount(t.TotalDue)},
		{"Total Paid", FormatAmount(t.TotalPaid)},
		{"Total Portfolio", FormatAmount(t.TotalPortfolio)},
		{"Total Due On Date", FormatAmount(t.TotalDueOnDate)},
		{"Repurchased Total", FormatAmount(t.RepurchasedTotal)},
		{"Repurchased Loans", t.RepurchasedLoans},
		{"Total Repaid", FormatAmount(t.TotalRepaid)},
	}
	if err := writeRows(f, totalsSheet, totals); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("failed to set %s!%s: %w", sheet, cell, err)
			}
		}
	}
	return nil
}
