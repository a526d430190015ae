package poller

import (
	"context"
	"fmt"
	"log/slog"

	"scangate/internal/repository"
)

// PendingLister 列出仍在等待判定的记录。
type PendingLister interface {
	ListPending(ctx context.Context) ([]repository.UploadRecord, error)
}

// Recover 在启动时为所有持有 analysis handle 的 pending 记录重新挂上
// 轮询任务。只重新轮询，绝不重复提交。
func (p *Pool) Recover(ctx context.Context, repo PendingLister) (int, error) {
	records, err := repo.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending uploads: %w", err)
	}

	count := 0
	for _, record := range records {
		if !p.Enqueue(Job{Digest: record.Digest, Handle: record.AnalysisHandle}) {
			break
		}
		count++
	}

	if count > 0 {
		p.logger.Info("re-attached pollers to pending scans", slog.Int("count", count))
	}
	return count, nil
}
