package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"scangate/internal/repository"
	"scangate/internal/scanner"
	"scangate/internal/storage"
)

// Uploads 封装上传验证流水线的业务流程：
// 入口校验 → 去重 → 提交扫描 → （后台轮询）→ 发布 → 记录更新。
type Uploads struct {
	repo          repository.UploadRepository
	scanner       scanner.Client
	public        storage.Storage // 公共存储，只有 clean 文件会写入
	staging       storage.Storage // 隔离区，提交后的字节在发布前暂存于此
	quota         Quota
	publicBaseURL string
	logger        *slog.Logger
}

func NewUploads(
	repo repository.UploadRepository,
	scan scanner.Client,
	public storage.Storage,
	staging storage.Storage,
	quota Quota,
	publicBaseURL string,
	logger *slog.Logger,
) *Uploads {
	return &Uploads{
		repo:          repo,
		scanner:       scan,
		public:        public,
		staging:       staging,
		quota:         quota,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger.With(slog.String("component", "uploads_service")),
	}
}

// IngestInput 描述一次上传请求。
type IngestInput struct {
	Filename string
	OwnerID  string
	Content  []byte
}

// IngestResult 是入口阶段的结果。Deduplicated 为 true 时未触发新的扫描提交。
type IngestResult struct {
	Record       *repository.UploadRecord
	Deduplicated bool
}

// Ingest 执行入口校验、去重与扫描提交。
//
// 成功路径每个唯一 digest 恰好产生一条记录与一次外部提交；
// 提交失败时不创建记录，调用方可整体重试。
func (s *Uploads) Ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	if len(input.Content) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidFileType)
	}

	ext, err := validateImage(input.Filename, input.Content)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(input.Content)
	digest := hex.EncodeToString(sum[:])
	fileName := digest + ext

	// 去重：同字节内容只保留一条规范记录
	existing, err := s.repo.FindByDigest(ctx, digest)
	if err == nil {
		return &IngestResult{Record: existing, Deduplicated: true}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}

	size := int64(len(input.Content))
	used, max, err := s.quota.Limits(ctx, input.OwnerID)
	if err != nil {
		return nil, err
	}
	if size+used > max {
		return nil, fmt.Errorf("%w: %d + %d used exceeds %d", ErrQuotaExceeded, size, used, max)
	}

	// 先落隔离区，发布与重启恢复都从这里取回字节
	if _, err := s.staging.Write(ctx, fileName, bytes.NewReader(input.Content)); err != nil {
		return nil, fmt.Errorf("stage upload: %w", err)
	}

	handle, err := s.scanner.Submit(ctx, fileName, bytes.NewReader(input.Content))
	if err != nil {
		_ = s.staging.Remove(ctx, fileName)
		scanSubmissionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrScanSubmission, err)
	}
	scanSubmissionsTotal.WithLabelValues("success").Inc()

	record, err := s.repo.Create(ctx, &repository.UploadRecord{
		Digest:         digest,
		FileName:       fileName,
		SizeBytes:      size,
		OwnerID:        input.OwnerID,
		AnalysisHandle: handle,
		Status:         repository.UploadStatusPending,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// 并发上传了同一内容，收敛到已有记录
			existing, findErr := s.repo.FindByDigest(ctx, digest)
			if findErr != nil {
				return nil, findErr
			}
			return &IngestResult{Record: existing, Deduplicated: true}, nil
		}
		return nil, fmt.Errorf("create record: %w", err)
	}

	s.logger.Info("upload accepted",
		slog.String("digest", digest),
		slog.Int64("size", size),
		slog.String("owner_id", input.OwnerID),
		slog.String("analysis_handle", handle),
	)

	return &IngestResult{Record: record}, nil
}

// StatusView 是状态查询的对外表示。
type StatusView struct {
	Digest    string `json:"digest"`
	Status    string `json:"status"`
	Dangerous bool   `json:"dangerous"`
	FileURL   string `json:"file_url,omitempty"`
}

// Status 返回记录的生命周期状态；只有已完成且 clean 的记录带公共 URL。
func (s *Uploads) Status(ctx context.Context, digest string) (*StatusView, error) {
	record, err := s.repo.FindByDigest(ctx, digest)
	if err != nil {
		return nil, err
	}
	return s.statusView(record), nil
}

func (s *Uploads) statusView(record *repository.UploadRecord) *StatusView {
	view := &StatusView{
		Digest:    record.Digest,
		Status:    string(record.Status),
		Dangerous: record.Dangerous,
	}
	if record.Status == repository.UploadStatusCompleted && !record.Dangerous {
		view.FileURL = s.publicBaseURL + "/" + record.FileName
	}
	return view
}

// ListView 是 owner 的记录列表与配额信息。
type ListView struct {
	Uploads   []repository.UploadRecord `json:"uploads"`
	UsedBytes int64                     `json:"used_bytes"`
	MaxBytes  int64                     `json:"max_bytes"`
}

// List 按 owner 分页返回记录与配额占用。
func (s *Uploads) List(ctx context.Context, params repository.ListUploadsParams) (*ListView, error) {
	records, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, err
	}
	used, max, err := s.quota.Limits(ctx, params.OwnerID)
	if err != nil {
		return nil, err
	}
	return &ListView{Uploads: records, UsedBytes: used, MaxBytes: max}, nil
}

// Delete 删除记录以及公共副本与隔离区字节。只有 owner 本人可以删除。
func (s *Uploads) Delete(ctx context.Context, digest, requesterID string) error {
	record, err := s.repo.FindByDigest(ctx, digest)
	if err != nil {
		return err
	}
	if record.OwnerID != requesterID {
		return ErrForbidden
	}

	if err := s.public.Remove(ctx, record.FileName); err != nil {
		return fmt.Errorf("remove public copy: %w", err)
	}
	if err := s.staging.Remove(ctx, record.FileName); err != nil {
		s.logger.Warn("remove staged bytes failed",
			slog.String("digest", digest),
			slog.String("error", err.Error()),
		)
	}

	if err := s.repo.Delete(ctx, digest); err != nil {
		return err
	}

	s.logger.Info("upload deleted",
		slog.String("digest", digest),
		slog.String("owner_id", requesterID),
	)
	return nil
}

// ApplyVerdict 处理终态判定：clean 先发布再落判定，dangerous 不发布。
//
// 发布失败时记录保持 pending，暂存字节保留，恢复路径会重新轮询
// handle 并重试发布，整个步骤按 digest 幂等。
func (s *Uploads) ApplyVerdict(ctx context.Context, digest string, stats scanner.Stats) error {
	record, err := s.repo.FindByDigest(ctx, digest)
	if err != nil {
		return err
	}
	if record.Status == repository.UploadStatusCompleted {
		return nil
	}

	dangerous := stats.Flagged()
	if !dangerous {
		if err := s.publish(ctx, record.FileName); err != nil {
			return fmt.Errorf("publish %s: %w", digest, err)
		}
	}

	// 发布先于状态推进：读到 completed 的请求一定能看到公共副本
	if err := s.repo.SetVerdict(ctx, digest, dangerous); err != nil {
		return fmt.Errorf("set verdict: %w", err)
	}

	if err := s.staging.Remove(ctx, record.FileName); err != nil {
		s.logger.Warn("remove staged bytes failed",
			slog.String("digest", digest),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("verdict applied",
		slog.String("digest", digest),
		slog.Bool("dangerous", dangerous),
		slog.Int("malicious", stats.Malicious),
		slog.Int("suspicious", stats.Suspicious),
	)
	return nil
}

func (s *Uploads) publish(ctx context.Context, fileName string) error {
	staged, err := s.staging.Read(ctx, fileName)
	if err != nil {
		return fmt.Errorf("read staged bytes: %w", err)
	}
	defer staged.Close()

	if _, err := s.public.Write(ctx, fileName, staged); err != nil {
		return err
	}
	return nil
}

// OpenPublic 返回已发布文件的内容。未完成或被标记 dangerous 的
// 文件永远不会从这里流出。
func (s *Uploads) OpenPublic(ctx context.Context, fileName string) (io.ReadCloser, *repository.UploadRecord, error) {
	digest := fileName
	if idx := strings.IndexByte(fileName, '.'); idx != -1 {
		digest = fileName[:idx]
	}

	record, err := s.repo.FindByDigest(ctx, digest)
	if err != nil {
		return nil, nil, err
	}
	if record.Status != repository.UploadStatusCompleted || record.Dangerous || record.FileName != fileName {
		return nil, nil, ErrNotPublished
	}

	rc, err := s.public.Read(ctx, fileName)
	if err != nil {
		return nil, nil, err
	}
	return rc, record, nil
}
