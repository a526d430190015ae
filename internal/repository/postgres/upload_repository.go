package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"scangate/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
)

// NewUploadRepository 返回基于 *sql.DB 的 Postgres 实现。
func NewUploadRepository(db *sql.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

// UploadRepository 实现 repository.UploadRepository。
type UploadRepository struct {
	db *sql.DB
}

var uploadSelectColumns = []string{
	"digest",
	"file_name",
	"size_bytes",
	"owner_id",
	"analysis_handle",
	"status",
	"dangerous",
	"created_at",
	"updated_at",
}

var uploadInsertColumns = []string{
	"digest",
	"file_name",
	"size_bytes",
	"owner_id",
	"analysis_handle",
	"status",
}

// Create 插入上传记录并返回数据库生成字段（如时间戳）。
func (r *UploadRepository) Create(ctx context.Context, record *repository.UploadRecord) (*repository.UploadRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("upload record is nil")
	}

	placeholders := make([]string, len(uploadInsertColumns))
	for i := range uploadInsertColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`INSERT INTO uploads (%s)
	VALUES (%s)
	RETURNING %s`,
		strings.Join(uploadInsertColumns, ","),
		strings.Join(placeholders, ","),
		strings.Join(uploadSelectColumns, ","),
	)

	status := record.Status
	if status == "" {
		status = repository.UploadStatusPending
	}

	row := r.db.QueryRowContext(
		ctx,
		query,
		record.Digest,
		record.FileName,
		record.SizeBytes,
		record.OwnerID,
		record.AnalysisHandle,
		status,
	)

	created, err := scanUploadRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 = unique_violation，digest 冲突说明记录已存在
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, repository.ErrDuplicate
		}
		return nil, err
	}
	return created, nil
}

// FindByDigest 通过内容摘要查询上传记录。
func (r *UploadRepository) FindByDigest(ctx context.Context, digest string) (*repository.UploadRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM uploads WHERE digest = $1`, strings.Join(uploadSelectColumns, ","))
	row := r.db.QueryRowContext(ctx, query, digest)
	record, err := scanUploadRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

// SetVerdict 以单条 UPDATE 将 pending 记录推进到 completed 并写入 dangerous。
// WHERE status = 'pending' 保证状态单调且判定不可变。
func (r *UploadRepository) SetVerdict(ctx context.Context, digest string, dangerous bool) error {
	query := `UPDATE uploads
	SET status = $1, dangerous = $2, updated_at = $3
	WHERE digest = $4 AND status = $5`
	res, err := r.db.ExecContext(ctx, query,
		repository.UploadStatusCompleted,
		dangerous,
		time.Now().UTC(),
		digest,
		repository.UploadStatusPending,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// 记录不存在或已经 completed，两种情况都区分出来
		if _, findErr := r.FindByDigest(ctx, digest); findErr != nil {
			return findErr
		}
		return nil
	}
	return nil
}

// Delete 删除上传记录。
func (r *UploadRepository) Delete(ctx context.Context, digest string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM uploads WHERE digest = $1`, digest)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListPending 返回持有 analysis handle 的 pending 记录，供启动恢复重挂轮询。
func (r *UploadRepository) ListPending(ctx context.Context) ([]repository.UploadRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM uploads
	WHERE status = $1 AND analysis_handle != ''
	ORDER BY created_at`, strings.Join(uploadSelectColumns, ","))

	rows, err := r.db.QueryContext(ctx, query, repository.UploadStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectUploadRecords(rows)
}

// List 按 owner 分页返回上传记录。
func (r *UploadRepository) List(ctx context.Context, params repository.ListUploadsParams) ([]repository.UploadRecord, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	args := []any{params.OwnerID, limit}
	tail := "ORDER BY created_at DESC LIMIT $2"
	if params.Offset > 0 {
		args = append(args, params.Offset)
		tail += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	query := fmt.Sprintf(`SELECT %s FROM uploads WHERE owner_id = $1 %s`,
		strings.Join(uploadSelectColumns, ","), tail)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectUploadRecords(rows)
}

// UsedBytes 统计 owner 已占用的字节数。
func (r *UploadRepository) UsedBytes(ctx context.Context, ownerID string) (int64, error) {
	var used int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0) FROM uploads WHERE owner_id = $1`,
		ownerID,
	).Scan(&used)
	if err != nil {
		return 0, err
	}
	return used, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUploadRecord(rs rowScanner) (*repository.UploadRecord, error) {
	var rec repository.UploadRecord

	if err := rs.Scan(
		&rec.Digest,
		&rec.FileName,
		&rec.SizeBytes,
		&rec.OwnerID,
		&rec.AnalysisHandle,
		&rec.Status,
		&rec.Dangerous,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	return &rec, nil
}

func collectUploadRecords(rows *sql.Rows) ([]repository.UploadRecord, error) {
	var result []repository.UploadRecord
	for rows.Next() {
		rec, err := scanUploadRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
