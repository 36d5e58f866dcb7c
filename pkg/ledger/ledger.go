package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/debiflow/pkg/config"
	"github.com/mcclellann/debiflow/pkg/dataset"
	"github.com/mcclellann/debiflow/pkg/metrics"
	"github.com/mcclellann/debiflow/pkg/models"
	"github.com/mcclellann/debiflow/pkg/period"
	"github.com/mcclellann/debiflow/pkg/store"
	"github.com/sirupsen/logrus"
)

// Ledger runs the reporting-period stages for investors over a blob store.
// Stages share nothing in memory; each reads and writes persisted datasets.
type Ledger struct {
	storage  store.BlobStore
	journal  store.RunJournal
	metrics  *metrics.Recorder
	logger   *logrus.Logger
	resolver *period.Resolver
	now      func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithJournal records every stage run in j.
func WithJournal(j store.RunJournal) Option {
	return func(l *Ledger) { l.journal = j }
}

// WithMetrics reports stage runs to r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(l *Ledger) { l.metrics = r }
}

// WithClock overrides the wall clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a new Ledger with a given BlobStore implementation.
func NewLedger(s store.BlobStore, logger *logrus.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = logrus.New()
	}
	l := &Ledger{
		storage:  s,
		logger:   logger,
		resolver: period.NewResolver(s),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// stageFunc does the work of one stage and returns its output location and
// the number of rows it wrote.
type stageFunc func(log *logrus.Entry) (output string, rows int, err error)

func (l *Ledger) run(ctx context.Context, investor string, p models.Period, stage models.Stage, fn stageFunc) (string, error) {
	run := &models.StageRun{
		ID:        uuid.New(),
		Investor:  investor,
		Period:    p,
		Stage:     stage,
		StartedAt: l.now().UTC(),
	}
	log := l.logger.WithFields(logrus.Fields{
		"investor": investor,
		"period":   string(p),
		"stage":    string(stage),
		"run_id":   run.ID.String(),
	})
	log.Info("stage started")

	output, rows, err := fn(log)

	run.FinishedAt = l.now().UTC()
	run.Output = output
	run.Status = models.RunSucceeded
	if err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
		config.LogError(l.logger, "ledger", string(stage), investor+"/"+string(p), run.ID.String(), err)
	} else {
		log.WithFields(logrus.Fields{"output": output, "rows": rows}).Info("stage finished")
	}

	l.metrics.ObserveStage(string(stage), string(run.Status), run.FinishedAt.Sub(run.StartedAt))
	l.metrics.AddRows(string(stage), rows)
	if l.journal != nil {
		if jerr := l.journal.RecordRun(ctx, run); jerr != nil {
			log.WithError(jerr).Warn("failed to record stage run")
		}
	}
	return output, err
}

// loadRequired reads and decodes a dataset that must exist.
func (l *Ledger) loadRequired(ctx context.Context, path string) (*dataset.Table, error) {
	data, err := l.storage.Read(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, missing(path, "file not found")
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	t, err := dataset.Decode(data)
	if err != nil {
		return nil, &ParseError{Artifact: path, Err: err}
	}
	return t, nil
}

// loadOptional reads a dataset that may legitimately be absent. Absence
// yields found=false and a warning; a present but unreadable file is an error.
func (l *Ledger) loadOptional(ctx context.Context, path string, log *logrus.Entry) (t *dataset.Table, found bool, err error) {
	data, err := l.storage.Read(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.WithField("path", path).Warn("optional dataset not found, using empty set")
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	t, err = dataset.Decode(data)
	if err != nil {
		return nil, false, &ParseError{Artifact: path, Err: err}
	}
	return t, true, nil
}

func (l *Ledger) write(ctx context.Context, path string, t *dataset.Table) error {
	data, err := dataset.Encode(t)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := l.storage.Write(ctx, path, data, dataset.ContentType); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func requirePeriod(p models.Period, name string) error {
	if p.IsZero() {
		return missing(name, "no reporting period given")
	}
	if _, err := models.ParsePeriod(string(p)); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
