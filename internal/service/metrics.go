package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// scanSubmissionsTotal 按结果统计扫描提交
var scanSubmissionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scan_submissions_total",
		Help: "Total number of scan submissions, by outcome",
	},
	[]string{"outcome"},
)
