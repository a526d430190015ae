package scanner

import (
	"context"
	"errors"
	"io"
)

// ErrTransient 标记可重试的提供方错误（网络故障、5xx、限流）。
// 轮询方遇到该错误只记录日志并继续，不会判定记录失败。
var ErrTransient = errors.New("scanner: transient provider error")

// StatusCompleted 是提供方的终态，之后不再轮询。
const StatusCompleted = "completed"

// Stats 是提供方返回的判定统计。
type Stats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Harmless   int `json:"harmless"`
	Undetected int `json:"undetected"`
}

// Flagged 表示任一引擎给出恶意或可疑判定。
func (s Stats) Flagged() bool {
	return s.Malicious > 0 || s.Suspicious > 0
}

// Report 是一次状态查询的结果。
type Report struct {
	Status string
	Stats  Stats
}

// Completed 表示扫描已到达终态。
func (r *Report) Completed() bool {
	return r != nil && r.Status == StatusCompleted
}

// Client 抽象外部内容分析服务。
type Client interface {
	// Submit 提交文件字节，返回用于后续轮询的 analysis handle。
	Submit(ctx context.Context, filename string, r io.Reader) (string, error)
	// Analysis 查询 handle 对应的扫描状态。
	Analysis(ctx context.Context, handle string) (*Report, error)
}
