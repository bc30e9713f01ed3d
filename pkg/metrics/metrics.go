// Package metrics 定义了流水线与 HTTP 层的 Prometheus 指标。
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var StageOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docvault_pipeline_stage_outcomes_total",
	Help: "Pipeline stage executions labelled by stage and outcome",
}, []string{"stage", "outcome"})

var StageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docvault_pipeline_stage_retries_total",
	Help: "Retries scheduled per pipeline stage",
}, []string{"stage"})

var TerminalStatuses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docvault_pipeline_terminal_status_total",
	Help: "Versions reaching a terminal processing status",
}, []string{"status"})

var stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "docvault_pipeline_stage_duration_seconds",
	Help:    "Time spent in a single pipeline stage attempt.",
	Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30, 60, 120},
}, []string{"stage"})

var ConsumerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docvault_consumer_messages_total",
	Help: "Queue messages handled by the ingestion consumer labelled by result",
}, []string{"result"})

var httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docvault_http_requests_total",
	Help: "Total number of requests labelled by route and status",
}, []string{"route", "status"})

var httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "docvault_http_request_duration_seconds",
	Help:    "HTTP request latency by route.",
	Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 30},
}, []string{"route"})

// ObserveStage 记录一次阶段执行的结果与耗时。
func ObserveStage(stage, outcome string, elapsed time.Duration) {
	StageOutcomes.WithLabelValues(stage, outcome).Inc()
	stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func IncrementRetry(stage string) {
	StageRetries.WithLabelValues(stage).Inc()
}

func IncrementTerminal(status string) {
	TerminalStatuses.WithLabelValues(status).Inc()
}

func IncrementConsumer(result string) {
	ConsumerMessages.WithLabelValues(result).Inc()
}

// GinMiddleware 按路由模板统计请求数和耗时。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// Handler 暴露 /metrics 端点。
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
