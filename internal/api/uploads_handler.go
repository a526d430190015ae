package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"scangate/internal/middleware"
	"scangate/internal/poller"
	"scangate/internal/repository"
	"scangate/internal/service"

	"github.com/go-chi/chi/v5"
)

// ScanQueue 抽象轮询任务的入队，便于 handler 测试。
type ScanQueue interface {
	Enqueue(job poller.Job) bool
}

// UploadHandler 提供上传流水线相关的 HTTP 端点。
type UploadHandler struct {
	service        *service.Uploads
	queue          ScanQueue
	maxUploadBytes int64
}

func NewUploadHandler(s *service.Uploads, queue ScanQueue, maxUploadBytes int64) *UploadHandler {
	return &UploadHandler{service: s, queue: queue, maxUploadBytes: maxUploadBytes}
}

func (h *UploadHandler) RegisterRoutes(r chi.Router) {
	r.Route("/uploads", func(r chi.Router) {
		r.Post("/", h.CreateUpload)
		r.Get("/", h.ListUploads)
		r.Get("/{digest}", h.GetUploadStatus)
		r.Delete("/{digest}", h.DeleteUpload)
	})
}

const multipartMemoryBudget int64 = 16 * 1024 * 1024

// acceptedResponse 是异步受理的应答：扫描在后台继续，客户端需另行查询状态。
type acceptedResponse struct {
	Digest   string `json:"digest"`
	Accepted bool   `json:"accepted"`
}

// CreateUpload 接受 multipart/form-data 上传，受理后立即返回 202。
// 字节完全相同的重复上传直接返回已有记录，不触发新的扫描。
func (h *UploadHandler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is empty")
		return
	}

	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "missing owner identity")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartMemoryBudget)
	defer r.Body.Close()

	if err := r.ParseMultipartForm(multipartMemoryBudget); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds size limit")
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read uploaded file")
		return
	}
	if len(content) == 0 {
		writeError(w, http.StatusBadRequest, "file must not be empty")
		return
	}
	if int64(len(content)) > h.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds size limit")
		return
	}

	result, err := h.service.Ingest(r.Context(), service.IngestInput{
		Filename: header.Filename,
		OwnerID:  ownerID,
		Content:  content,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidFileType):
			writeError(w, http.StatusBadRequest, "file type not allowed")
		case errors.Is(err, service.ErrQuotaExceeded):
			writeError(w, http.StatusRequestEntityTooLarge, "storage quota exceeded")
		case errors.Is(err, service.ErrScanSubmission):
			writeError(w, http.StatusBadGateway, "scan submission failed, please retry")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if result.Deduplicated {
		writeJSON(w, http.StatusOK, envelope{Data: result.Record})
		return
	}

	// 请求路径到此结束：轮询作为后台任务继续
	h.queue.Enqueue(poller.Job{
		Digest: result.Record.Digest,
		Handle: result.Record.AnalysisHandle,
	})

	writeJSON(w, http.StatusAccepted, envelope{Data: acceptedResponse{
		Digest:   result.Record.Digest,
		Accepted: true,
	}})
}

// GetUploadStatus 返回记录的生命周期状态。
func (h *UploadHandler) GetUploadStatus(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	digest := chi.URLParam(r, "digest")
	if digest == "" {
		writeError(w, http.StatusBadRequest, "digest is required")
		return
	}

	view, err := h.service.Status(r.Context(), digest)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "upload not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: view})
}

// ListUploads 返回请求者自己的上传记录与配额占用。
func (h *UploadHandler) ListUploads(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "missing owner identity")
		return
	}

	params := repository.ListUploadsParams{OwnerID: ownerID}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			params.Limit = limit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			params.Offset = offset
		}
	}

	view, err := h.service.List(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: view})
}

// DeleteUpload 删除请求者自己的上传记录及公共副本。
func (h *UploadHandler) DeleteUpload(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	digest := chi.URLParam(r, "digest")
	if digest == "" {
		writeError(w, http.StatusBadRequest, "digest is required")
		return
	}

	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "missing owner identity")
		return
	}

	err := h.service.Delete(r.Context(), digest, ownerID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "upload not found")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "not the owner of this upload")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// ServePublicFile 返回已发布文件的内容。pending 或 dangerous 的文件一律 404。
func (h *UploadHandler) ServePublicFile(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	fileName := chi.URLParam(r, "fileName")
	if fileName == "" {
		writeError(w, http.StatusBadRequest, "file name is required")
		return
	}

	content, record, err := h.service.OpenPublic(r.Context(), fileName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, service.ErrNotPublished) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	defer content.Close()

	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(record.SizeBytes, 10))

	if _, err := io.Copy(w, content); err != nil {
		// 客户端可能已断开，无法再写入错误响应
		return
	}
}
