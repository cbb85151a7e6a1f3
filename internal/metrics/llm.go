package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvforge",
			Subsystem: "llm",
			Name:      "generations_total",
			Help:      "内容生成调用总数，按结果分类。",
		},
		[]string{"outcome"},
	)

	generationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cvforge",
			Subsystem: "llm",
			Name:      "generation_duration_seconds",
			Help:      "内容生成调用耗时分布（秒）。",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
	)
)

// ObserveGeneration 记录一次生成调用的结果与耗时。
func ObserveGeneration(outcome string, elapsed time.Duration) {
	generationTotal.WithLabelValues(outcome).Inc()
	generationDuration.Observe(elapsed.Seconds())
}
