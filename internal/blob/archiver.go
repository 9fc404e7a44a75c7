// Package blob archives aged execution history out of the hot store into
// object storage.
package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/leoyang128/mirrorbot/internal/domain"
)

const (
	defaultBatchSize = 500
	defaultRetention = 30 * 24 * time.Hour
)

// ArchiverConfig tunes the archival pass.
type ArchiverConfig struct {
	// Retention is how long executions stay in the hot store. Anything older
	// is archived and deleted. Zero means the 30-day default.
	Retention time.Duration

	// BatchSize caps how many executions one archive object holds. Zero means
	// the default of 500.
	BatchSize int
}

// Archiver moves execution results older than the retention window from the
// store into blob storage as JSON Lines objects, then deletes them. An upload
// failure aborts the pass before anything is deleted.
type Archiver struct {
	cfg    ArchiverConfig
	store  domain.ExecutionStore
	writer domain.BlobWriter
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(cfg ArchiverConfig, store domain.ExecutionStore, writer domain.BlobWriter, logger *slog.Logger) *Archiver {
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Archiver{
		cfg:    cfg,
		store:  store,
		writer: writer,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Run performs archive passes at the given interval until ctx is cancelled.
// Failures are logged and retried on the next tick.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.ArchiveOnce(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.InfoContext(ctx, "archived executions", slog.Int("count", n))
			}
		}
	}
}

// ArchiveOnce uploads every execution older than the retention cutoff in
// batches and deletes archived rows only after all uploads succeed. It returns
// the number of executions archived.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-a.cfg.Retention)
	total := 0

	for {
		batch, err := a.store.ListBefore(ctx, cutoff, a.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("blob: list executions: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		key := archiveKey(batch[0].ExecutedAt, batch[len(batch)-1].ExecutedAt)
		data, err := encodeJSONLines(batch)
		if err != nil {
			return total, fmt.Errorf("blob: encode archive batch: %w", err)
		}
		if err := a.writer.Put(ctx, key, data, "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("blob: upload archive %s: %w", key, err)
		}

		// Delete only what this batch covered. The last executed_at of the
		// batch bounds the deletion so unarchived rows survive.
		last := batch[len(batch)-1].ExecutedAt
		if _, err := a.store.DeleteBefore(ctx, last.Add(time.Nanosecond)); err != nil {
			return total, fmt.Errorf("blob: delete archived executions: %w", err)
		}
		total += len(batch)

		if len(batch) < a.cfg.BatchSize {
			break
		}
	}
	return total, nil
}

// archiveKey names an archive object by the time range it covers, partitioned
// by day for cheap prefix listing.
func archiveKey(first, last time.Time) string {
	return fmt.Sprintf("executions/%s/%s_%s.jsonl",
		first.UTC().Format("2006/01/02"),
		first.UTC().Format("150405"),
		last.UTC().Format("150405"),
	)
}

func encodeJSONLines(batch []domain.ExecutionResult) ([]byte, error) {
	var buf []byte
	for _, res := range batch {
		line, err := json.Marshal(res)
		if err != nil {
			return nil, err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return buf, nil
}
