package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// scanPollsTotal 按结果统计每次状态查询
	scanPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_polls_total",
			Help: "Total number of analysis status queries, by outcome",
		},
		[]string{"outcome"},
	)

	// scanVerdictsTotal 按判定统计终态结果
	scanVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_verdicts_total",
			Help: "Total number of terminal scan verdicts, by verdict",
		},
		[]string{"verdict"},
	)

	// scanPollTimeoutsTotal 轮询预算耗尽的次数
	scanPollTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scan_poll_timeouts_total",
			Help: "Number of scans whose polling budget was exhausted without a terminal verdict",
		},
	)

	// scansInFlight 当前在飞的轮询任务数
	scansInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scans_in_flight",
		Help: "Number of scans currently being polled",
	})
)
