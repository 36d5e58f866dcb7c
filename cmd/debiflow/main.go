package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mcclellann/debiflow/pkg/config"
	"github.com/mcclellann/debiflow/pkg/ledger"
	"github.com/mcclellann/debiflow/pkg/store"
)

// env is what every command runs against.
type env struct {
	ledger    *ledger.Ledger
	storage   store.BlobStore
	threshold int
}

type opener func(ctx context.Context) (*env, error)

// openFromConfig builds the env from the process configuration. Logs go to
// stderr so command output stays machine readable.
func openFromConfig(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(cfg.LogLevel)
	logger.SetOutput(os.Stderr)

	blobs, journal, err := config.OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	var opts []ledger.Option
	if journal != nil {
		opts = append(opts, ledger.WithJournal(journal))
	}
	return &env{
		ledger:    ledger.NewLedger(blobs, logger, opts...),
		storage:   blobs,
		threshold: cfg.DPDThreshold,
	}, nil
}

func main() {
	if err := newCLI(openFromConfig).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
