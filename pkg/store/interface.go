package store

import (
	"context"
	"errors"

	"github.com/mcclellann/debiflow/pkg/models"
)

// ErrNotFound is returned by every backend when an object does not exist.
var ErrNotFound = errors.New("object not found")

// BlobStore is a key-value blob store addressed by slash-separated paths.
type BlobStore interface {
	Read(ctx context.Context, path string) ([]byte, error)
	// Write creates or overwrites the object at path.
	Write(ctx context.Context, path string, data []byte, contentType string) error
	Exists(ctx context.Context, path string) (bool, error)
	// List returns the full paths beginning with prefix, sorted ascending.
	List(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// RunJournal records stage invocations.
type RunJournal interface {
	RecordRun(ctx context.Context, run *models.StageRun) error
	// ListRuns returns an investor's runs, oldest first.
	ListRuns(ctx context.Context, investor string) ([]*models.StageRun, error)
}
