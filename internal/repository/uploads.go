package repository

import (
	"context"
	"time"
)

// UploadStatus 描述扫描生命周期，只会从 pending 单向推进到 completed。
type UploadStatus string

const (
	UploadStatusPending   UploadStatus = "pending"
	UploadStatusCompleted UploadStatus = "completed"
)

// UploadRecord 代表一次上传的生命周期记录，以内容摘要为主键。
type UploadRecord struct {
	Digest         string       `json:"digest"`
	FileName       string       `json:"file_name"`
	SizeBytes      int64        `json:"size_bytes"`
	OwnerID        string       `json:"owner_id"`
	AnalysisHandle string       `json:"-"`
	Status         UploadStatus `json:"status"`
	Dangerous      bool         `json:"dangerous"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// ListUploadsParams 用于按 owner 分页检索上传记录。
type ListUploadsParams struct {
	OwnerID string
	Limit   int
	Offset  int
}

// UploadRepository 统一上传记录持久层接口。
type UploadRepository interface {
	Create(ctx context.Context, record *UploadRecord) (*UploadRecord, error)
	FindByDigest(ctx context.Context, digest string) (*UploadRecord, error)
	// SetVerdict 以单条原子更新将记录推进到 completed 并写入 dangerous。
	// 已经 completed 的记录不会被再次修改。
	SetVerdict(ctx context.Context, digest string, dangerous bool) error
	Delete(ctx context.Context, digest string) error
	// ListPending 返回持有 analysis handle 且仍为 pending 的记录，供启动恢复使用。
	ListPending(ctx context.Context) ([]UploadRecord, error)
	List(ctx context.Context, params ListUploadsParams) ([]UploadRecord, error)
	// UsedBytes 统计 owner 已占用的字节数，用于配额判断。
	UsedBytes(ctx context.Context, ownerID string) (int64, error)
}
