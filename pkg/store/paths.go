package store

import (
	"fmt"
	"path"
	"strings"

	"github.com/mcclellann/debiflow/pkg/models"
)

// RootPrefix holds every investor's files.
const RootPrefix = "Investors/"

// Folders under an investor.
const (
	FolderRaw     = "raw"
	FolderMaster  = "master"
	FolderOutputs = "outputs"
)

// InvestorPath builds Investors/{investor}/{folder}/{filename}.
func InvestorPath(investor, folder, filename string) string {
	return fmt.Sprintf("%s%s/%s/%s", RootPrefix, investor, folder, filename)
}

// FolderPrefix is the listing prefix of one investor folder.
func FolderPrefix(investor, folder string) string {
	return InvestorPath(investor, folder, "")
}

// BaseName returns the last path element.
func BaseName(p string) string {
	return path.Base(p)
}

// InvestorFromPath extracts {investor} from a path under RootPrefix.
func InvestorFromPath(p string) (string, bool) {
	rest, ok := strings.CutPrefix(p, RootPrefix)
	if !ok {
		return "", false
	}
	investor, _, found := strings.Cut(rest, "/")
	if !found || investor == "" {
		return "", false
	}
	return investor, true
}

// RawFileName is {Category}_{YYYYMMDD}.csv.
func RawFileName(c models.Category, p models.Period) string {
	return fmt.Sprintf("%s_%s.csv", c, p)
}

// MasterFileName is {Category}_Master_{YYYYMMDD}.csv.
func MasterFileName(c models.Category, p models.Period) string {
	return fmt.Sprintf("%s_Master_%s.csv", c, p)
}

// PaymentsAllocatedFileName is Payments_Allocated_{YYYYMMDD}.csv.
func PaymentsAllocatedFileName(p models.Period) string {
	return fmt.Sprintf("Payments_Allocated_%s.csv", p)
}

// ReceivablesAllocatedFileName is Receivables_Allocated_{YYYYMMDD}.csv.
func ReceivablesAllocatedFileName(p models.Period) string {
	return fmt.Sprintf("Receivables_Allocated_%s.csv", p)
}

// RepurchasesFileName is Repurchases_Master_{YYYYMMDD}.csv.
func RepurchasesFileName(p models.Period) string {
	return fmt.Sprintf("Repurchases_Master_%s.csv", p)
}
