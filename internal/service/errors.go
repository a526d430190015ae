package service

import "errors"

var (
	// ErrInvalidFileType 文件类型不在允许列表，或嗅探结果与扩展名不符。
	ErrInvalidFileType = errors.New("service: invalid file type")
	// ErrQuotaExceeded owner 配额不足。
	ErrQuotaExceeded = errors.New("service: quota exceeded")
	// ErrScanSubmission 提交扫描服务失败，未创建任何记录。
	ErrScanSubmission = errors.New("service: scan submission failed")
	// ErrForbidden 请求者不是记录的 owner。
	ErrForbidden = errors.New("service: forbidden")
	// ErrNotPublished 文件尚未发布（pending 或 dangerous）。
	ErrNotPublished = errors.New("service: file not published")
)
