package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// FileRemover deletes a stored file by the URL it was saved under.
type FileRemover interface {
	Remove(ctx context.Context, url string) error
}

// StartFileDeletionCleaner drains the file_deletions table every interval,
// removing up to batch files per tick. Rows are queued in the same
// transaction that deletes their media records, so a file is only removed
// after its record is gone. A row whose removal fails stays queued and is
// retried on the next tick.
func StartFileDeletionCleaner(
	ctx context.Context,
	db *sql.DB,
	files FileRemover,
	interval time.Duration,
	batch int,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := drainFileDeletions(ctx, db, files, batch, log)
				if err != nil {
					log.Error("failed to drain file deletions", zap.Error(err))
					continue
				}
				if removed > 0 {
					log.Info("removed files of deleted media", zap.Int("removed", removed))
				}
			}
		}
	}()
}

func drainFileDeletions(ctx context.Context, db *sql.DB, files FileRemover, batch int, log *zap.Logger) (int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT file_url FROM file_deletions ORDER BY queued_at LIMIT $1
	`, batch)
	if err != nil {
		return 0, fmt.Errorf("list file deletions: %w", err)
	}

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan: %w", err)
		}
		urls = append(urls, url)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("iterate file deletions: %w", err)
	}
	_ = rows.Close()

	removed := 0
	for _, url := range urls {
		if err := files.Remove(ctx, url); err != nil {
			log.Warn("failed to remove file", zap.String("url", url), zap.Error(err))
			continue
		}
		if _, err := db.ExecContext(ctx, `DELETE FROM file_deletions WHERE file_url = $1`, url); err != nil {
			return removed, fmt.Errorf("dequeue %s: %w", url, err)
		}
		removed++
	}
	return removed, nil
}
