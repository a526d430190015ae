package service

import (
	"net/http"
	"path/filepath"
	"strings"
)

// allowedImageTypes 将嗅探出的 MIME 类型映射到允许的扩展名。
// 扩展名与内容必须同时匹配，防止改名绕过类型检查。
var allowedImageTypes = map[string]map[string]struct{}{
	"image/png":  {".png": {}},
	"image/jpeg": {".jpg": {}, ".jpeg": {}},
	"image/gif":  {".gif": {}},
	"image/webp": {".webp": {}},
}

// validateImage 校验文件内容与扩展名，返回归一化后的扩展名。
func validateImage(filename string, content []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return "", ErrInvalidFileType
	}

	head := content
	if len(head) > 512 {
		head = head[:512]
	}
	sniffed := http.DetectContentType(head)
	// DetectContentType 可能带 charset 参数
	if idx := strings.Index(sniffed, ";"); idx != -1 {
		sniffed = strings.TrimSpace(sniffed[:idx])
	}

	exts, ok := allowedImageTypes[sniffed]
	if !ok {
		return "", ErrInvalidFileType
	}
	if _, ok := exts[ext]; !ok {
		return "", ErrInvalidFileType
	}

	return ext, nil
}
