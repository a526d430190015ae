package service

import (
	"context"
	"fmt"

	"scangate/internal/repository"
)

// Quota 提供 owner 的已用量与上限。
type Quota interface {
	Limits(ctx context.Context, ownerID string) (used, max int64, err error)
}

// RepoQuota 基于记录表统计已用量，上限为统一默认值。
type RepoQuota struct {
	Repo     repository.UploadRepository
	MaxBytes int64
}

func (q *RepoQuota) Limits(ctx context.Context, ownerID string) (int64, int64, error) {
	used, err := q.Repo.UsedBytes(ctx, ownerID)
	if err != nil {
		return 0, 0, fmt.Errorf("used bytes for %s: %w", ownerID, err)
	}
	return used, q.MaxBytes, nil
}
