package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/mcclellann/debiflow/pkg/dataset"
	"github.com/mcclellann/debiflow/pkg/models"
	"github.com/mcclellann/debiflow/pkg/store"
	"github.com/sirupsen/logrus"
)

// MergeMasters appends the raw uploads of reportPeriod onto the masters of
// priorMaster for every category and writes the masters of reportPeriod. No
// master is written unless every category merges.
func (l *Ledger) MergeMasters(ctx context.Context, investor string, reportPeriod, priorMaster models.Period) ([]string, error) {
	var written []string
	_, err := l.run(ctx, investor, reportPeriod, models.StageMerge, func(log *logrus.Entry) (string, int, error) {
		if err := requirePeriod(reportPeriod, "report period"); err != nil {
			return "", 0, err
		}
		if err := requirePeriod(priorMaster, "prior master"); err != nil {
			return "", 0, err
		}

		merged := make([]*dataset.Table, len(models.RequiredCategories))
		rows := 0
		for i, c := range models.RequiredCategories {
			t, err := l.mergeCategory(ctx, investor, c, reportPeriod, priorMaster)
			if err != nil {
				return "", 0, &StageError{Stage: string(c), Err: err}
			}
			log.WithFields(logrus.Fields{"category": string(c), "rows": t.Len()}).Debug("category merged")
			merged[i] = t
			rows += t.Len()
		}

		for i, c := range models.RequiredCategories {
			name := store.MasterFileName(c, reportPeriod)
			if err := l.write(ctx, store.InvestorPath(investor, store.FolderMaster, name), merged[i]); err != nil {
				return "", 0, &StageError{Stage: string(c), Err: err}
			}
			written = append(written, name)
		}
		return store.FolderPrefix(investor, store.FolderMaster), rows, nil
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}

func (l *Ledger) mergeCategory(ctx context.Context, investor string, c models.Category, reportPeriod, priorMaster models.Period) (*dataset.Table, error) {
	desc, err := dataset.Describe(c)
	if err != nil {
		return nil, err
	}
	priorPath := store.InvestorPath(investor, store.FolderMaster, store.MasterFileName(c, priorMaster))
	rawPath := store.InvestorPath(investor, store.FolderRaw, store.RawFileName(c, reportPeriod))

	prior, err := l.loadRequired(ctx, priorPath)
	if err != nil {
		return nil, err
	}
	current, err := l.loadRequired(ctx, rawPath)
	if err != nil {
		return nil, err
	}
	prior = desc.Normalize(prior)
	current = desc.Normalize(current)

	// A seeded master with no header takes the shape of its first upload.
	if len(prior.Columns()) == 0 {
		prior = dataset.New(current.Columns()...)
	}
	if extra := current.Missing(prior.Columns()...); len(extra) > 0 {
		return nil, headerError(rawPath, &dataset.MissingColumnsError{Columns: extra})
	}
	if extra := prior.Missing(current.Columns()...); len(extra) > 0 {
		return nil, headerError(rawPath, fmt.Errorf("unexpected columns: %s", strings.Join(extra, ", ")))
	}
	return prior.Concat(current)
}

// SeedMasters writes empty masters for period so the first upload period has
// something to merge onto. It never overwrites an existing master.
func (l *Ledger) SeedMasters(ctx context.Context, investor string, p models.Period) ([]string, error) {
	var written []string
	_, err := l.run(ctx, investor, p, models.StageSeed, func(log *logrus.Entry) (string, int, error) {
		if err := requirePeriod(p, "seed period"); err != nil {
			return "", 0, err
		}
		for _, c := range models.RequiredCategories {
			path := store.InvestorPath(investor, store.FolderMaster, store.MasterFileName(c, p))
			exists, err := l.storage.Exists(ctx, path)
			if err != nil {
				return "", 0, fmt.Errorf("failed to check %s: %w", path, err)
			}
			if exists {
				return "", 0, fmt.Errorf("%s: %w", path, ErrAlreadySeeded)
			}
		}
		for _, c := range models.RequiredCategories {
			desc, err := dataset.Describe(c)
			if err != nil {
				return "", 0, err
			}
			name := store.MasterFileName(c, p)
			if err := l.write(ctx, store.InvestorPath(investor, store.FolderMaster, name), dataset.New(desc.RequiredColumns...)); err != nil {
				return "", 0, err
			}
			written = append(written, name)
		}
		return store.FolderPrefix(investor, store.FolderMaster), 0, nil
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}
