package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cohortingest/internal/blob"
	"cohortingest/internal/observability"
)

// Stager uploads local source files into the raw and clinical containers.
type Stager struct {
	Raw              blob.Store
	Clinical         blob.Store
	Logger           observability.Logger
	ClearConcurrency int
}

// StageMatrices uploads each file under its base name, overwriting existing
// objects. With clear set the raw container is emptied first. Upload stops at
// the first failure and returns what was stored so far.
func (s Stager) StageMatrices(ctx context.Context, paths []string, clear bool) ([]blob.Info, error) {
	if s.Raw == nil {
		return nil, errors.New("raw store is not configured")
	}
	log := observability.OrNop(s.Logger)
	if clear {
		n, err := blob.ClearAll(ctx, s.Raw, "", s.ClearConcurrency)
		if err != nil {
			log.Warn("raw container partially cleared", "deleted", n, "error", err)
			return nil, fmt.Errorf("clear raw container: %w", err)
		}
		log.Info("raw container cleared", "deleted", n)
	}
	out := make([]blob.Info, 0, len(paths))
	for _, p := range paths {
		info, err := upload(ctx, s.Raw, p, filepath.Base(p))
		if err != nil {
			return out, err
		}
		log.Info("matrix staged", "key", info.Key, "bytes", info.Size)
		out = append(out, info)
	}
	return out, nil
}

// StageClinical empties the clinical container and uploads path as
// ClinicalObjectKey.
func (s Stager) StageClinical(ctx context.Context, path string) (blob.Info, error) {
	if s.Clinical == nil {
		return blob.Info{}, errors.New("clinical store is not configured")
	}
	log := observability.OrNop(s.Logger)
	if _, err := os.Stat(path); err != nil {
		return blob.Info{}, fmt.Errorf("stat %s: %w", path, err)
	}
	n, err := blob.ClearAll(ctx, s.Clinical, "", s.ClearConcurrency)
	if err != nil {
		log.Warn("clinical container partially cleared", "deleted", n, "error", err)
		return blob.Info{}, fmt.Errorf("clear clinical container: %w", err)
	}
	info, err := upload(ctx, s.Clinical, path, ClinicalObjectKey)
	if err != nil {
		return blob.Info{}, err
	}
	log.Info("clinical file staged", "key", info.Key, "bytes", info.Size, "replaced", n)
	return info, nil
}

func upload(ctx context.Context, store blob.Store, path, key string) (blob.Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return blob.Info{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	info, err := store.Put(ctx, key, f, blob.PutOptions{
		ContentType: contentType(key),
		Metadata:    map[string]string{"source": filepath.Base(path)},
		Overwrite:   true,
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("upload %s: %w", key, err)
	}
	return info, nil
}

func contentType(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".gz":
		return "application/gzip"
	case ".tsv", ".txt":
		return "text/tab-separated-values"
	default:
		return "application/octet-stream"
	}
}
