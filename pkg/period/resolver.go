// Package period works out which reporting periods are ready to process.
package period

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/mcclellann/debiflow/pkg/models"
	"github.com/mcclellann/debiflow/pkg/store"
)

var (
	rawFilePattern    = regexp.MustCompile(`^(Schedule|CustomerDetails|Payments|HP_Repayments)_(\d{8})\.csv$`)
	masterFilePattern = regexp.MustCompile(`_Master_(\d{8})\.csv$`)
)

// Result is the resolved period pair. Either element may be the zero Period.
type Result struct {
	LatestRaw   models.Period `json:"latest_raw"`
	PriorMaster models.Period `json:"prior_master"`
}

// Select resolves the period pair from raw and master file names.
//
// Raw periods count only when every required category is present under the
// tag and the tag is not after reference. The prior master is the latest
// master strictly before the cutoff, which is reference when given and the
// latest complete raw period otherwise.
func Select(rawFiles, masterFiles []string, reference models.Period) Result {
	seen := make(map[models.Period]map[models.Category]bool)
	for _, name := range rawFiles {
		m := rawFilePattern.FindStringSubmatch(store.BaseName(name))
		if m == nil {
			continue
		}
		p := models.Period(m[2])
		if seen[p] == nil {
			seen[p] = make(map[models.Category]bool)
		}
		seen[p][models.Category(m[1])] = true
	}

	var complete []models.Period
	for p, cats := range seen {
		if len(cats) != len(models.RequiredCategories) {
			continue
		}
		if !reference.IsZero() && p > reference {
			continue
		}
		complete = append(complete, p)
	}
	sort.Slice(complete, func(i, j int) bool { return complete[i] < complete[j] })

	var res Result
	if len(complete) > 0 {
		res.LatestRaw = complete[len(complete)-1]
	}

	cutoff := reference
	if cutoff.IsZero() {
		cutoff = res.LatestRaw
	}
	if cutoff.IsZero() {
		return res
	}
	for _, name := range masterFiles {
		m := masterFilePattern.FindStringSubmatch(store.BaseName(name))
		if m == nil {
			continue
		}
		p := models.Period(m[1])
		if p < cutoff && p > res.PriorMaster {
			res.PriorMaster = p
		}
	}
	return res
}

// Resolver lists an investor's stored files and selects the period pair.
type Resolver struct {
	store store.BlobStore
}

// NewResolver creates a Resolver over s.
func NewResolver(s store.BlobStore) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the latest complete raw period and the latest master period
// before the cutoff. Missing periods are returned as zero values, not errors.
func (r *Resolver) Resolve(ctx context.Context, investor string, reference models.Period) (Result, error) {
	raw, err := r.store.List(ctx, store.FolderPrefix(investor, store.FolderRaw))
	if err != nil {
		return Result{}, fmt.Errorf("failed to list raw files: %w", err)
	}
	masters, err := r.store.List(ctx, store.FolderPrefix(investor, store.FolderMaster))
	if err != nil {
		return Result{}, fmt.Errorf("failed to list master files: %w", err)
	}
	return Select(raw, masters, reference), nil
}
