package report

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/mcclellann/debiflow/pkg/models"
	"github.com/mcclellann/debiflow/pkg/store"
)

// BundleKind selects which files of a period go into a bundle.
type BundleKind string

const (
	BundleMasters     BundleKind = "masters"
	BundleAllocations BundleKind = "allocations"
)

// ParseBundleKind validates a bundle kind.
func ParseBundleKind(s string) (BundleKind, error) {
	switch k := BundleKind(s); k {
	case BundleMasters, BundleAllocations:
		return k, nil
	}
	return "", fmt.Errorf("unknown bundle kind %q", s)
}

// BundleFileName is {investor}_{kind}_{YYYYMMDD}.zip.
func BundleFileName(investor string, kind BundleKind, p models.Period) string {
	return fmt.Sprintf("%s_%s_%s.zip", investor, kind, p)
}

// Bundle zips the files of one period. Masters are every master file tagged
// with p, the repurchase ledger included; allocations are the period's two
// allocation outputs. It fails with store.ErrNotFound when nothing matches.
func Bundle(ctx context.Context, s store.BlobStore, investor string, p models.Period, kind BundleKind) ([]byte, error) {
	paths, err := bundlePaths(ctx, s, investor, p, kind)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no %s files for %s: %w", kind, p, store.ErrNotFound)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, path := range paths {
		data, err := s.Read(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		entry, err := zw.Create(store.BaseName(path))
		if err != nil {
			return nil, fmt.Errorf("failed to create zip entry: %w", err)
		}
		if _, err := entry.Write(data); err != nil {
			return nil, fmt.Errorf("failed to write zip entry: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zip: %w", err)
	}
	return buf.Bytes(), nil
}

func bundlePaths(ctx context.Context, s store.BlobStore, investor string, p models.Period, kind BundleKind) ([]string, error) {
	switch kind {
	case BundleMasters:
		listed, err := s.List(ctx, store.FolderPrefix(investor, store.FolderMaster))
		if err != nil {
			return nil, fmt.Errorf("failed to list masters: %w", err)
		}
		suffix := fmt.Sprintf("_%s.csv", p)
		var paths []string
		for _, path := range listed {
			if strings.HasSuffix(path, suffix) {
				paths = append(paths, path)
			}
		}
		return paths, nil
	case BundleAllocations:
		var paths []string
		for _, name := range []string{store.PaymentsAllocatedFileName(p), store.ReceivablesAllocatedFileName(p)} {
			path := store.InvestorPath(investor, store.FolderOutputs, name)
			ok, err := s.Exists(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("failed to check %s: %w", path, err)
			}
			if ok {
				paths = append(paths, path)
			}
		}
		return paths, nil
	}
	return nil, fmt.Errorf("unknown bundle kind %q", kind)
}
