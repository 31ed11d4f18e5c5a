// Package ingest turns files dropped into inbox directories into queued
// processing jobs.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/jobs"
)

// Enqueuer accepts new processing jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req jobs.EnqueueRequest) (uuid.UUID, error)
}

// Result is the per-file ingest outcome.
type Result struct {
	Path         string
	Kind         constants.DocumentKind
	JobID        uuid.UUID
	HashHex      string
	Deduplicated bool
	Err          string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// Ingestor enqueues one job per distinct file content. A file whose bytes
// did not change since it was last enqueued is skipped.
type Ingestor struct {
	jobs     Enqueuer
	priority constants.Priority
	logger   *slog.Logger

	mu   sync.Mutex
	seen map[string]string // abs path -> sha256 hex
}

func NewIngestor(j Enqueuer, priority constants.Priority, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if priority == "" {
		priority = constants.PriorityMedium
	}
	return &Ingestor{jobs: j, priority: priority, logger: logger, seen: map[string]string{}}
}

// IngestPath enqueues a single file.
func (i *Ingestor) IngestPath(ctx context.Context, path string) (Result, error) {
	out := Result{Path: path}

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, fmt.Errorf("abs path: %w", err)
	}
	out.Path = abs

	ext := constants.NormalizeExt(filepath.Ext(abs))
	if ext == "" || !AllowedExt(ext) {
		return out, common.NewAppError(common.CodeUnsupportedFormat, fmt.Sprintf("unsupported or missing extension %q", ext), nil)
	}
	out.Kind = constants.MapExtToKind(ext)
	if out.Kind == "" {
		return out, common.NewAppError(common.CodeUnsupportedFormat, fmt.Sprintf("no document kind for extension %q", ext), nil)
	}

	sum, size, err := hashFile(abs)
	if err != nil {
		return out, common.NewAppError(common.CodeSourceUnavailable, "read "+abs, err)
	}
	out.HashHex = sum

	i.mu.Lock()
	prev, ok := i.seen[abs]
	i.mu.Unlock()
	if ok && prev == sum {
		out.Deduplicated = true
		i.logger.Debug("ingest.dedup", "path", abs, "sha256", sum)
		return out, nil
	}

	id, err := i.jobs.Enqueue(ctx, jobs.EnqueueRequest{
		DocumentRef: abs,
		Kind:        out.Kind,
		SizeBytes:   size,
		Priority:    i.priority,
	})
	if err != nil {
		return out, err
	}
	out.JobID = id

	i.mu.Lock()
	i.seen[abs] = sum
	i.mu.Unlock()
	i.logger.Info("ingest.enqueued", "path", abs, "kind", out.Kind, "job_id", id, "size", size)
	return out, nil
}

// IngestDirectory walks root and calls IngestPath for each allowed file.
// Per-file failures are reported in the results and do not stop the walk.
func (i *Ingestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]Result, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []Result
	var stats DirStats
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, Result{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		res, err := i.IngestPath(ctx, path)
		if err != nil {
			res.Err = err.Error()
			results = append(results, res)
			stats.Failed++
			return nil
		}
		results = append(results, res)
		stats.Succeeded++
		if res.Deduplicated {
			stats.Deduplicated++
		}
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	i.logger.Info("ingest.directory", "root", root, "matched", stats.Matched, "succeeded", stats.Succeeded, "failed", stats.Failed)
	return results, stats, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
