// ============================================================================
// gymflow Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 暴露模擬進度與握手通道狀態，支持 Prometheus 監控
//
// 指標分類:
//
//   1. 計數器 (Counter) - 累計值，只增不減：
//      - gymflow_workflows_added_total: 已加入工作流總數
//      - gymflow_tasks_committed_total: 已提交任務總數
//      - gymflow_tasks_dispatched_total: 已分派任務總數
//      - gymflow_tasks_completed_total: 已完成任務總數
//      - gymflow_handshake_steps_total: 握手步驟總數
//
//   2. 性能指標 (Histogram) - 分佈統計：
//      - gymflow_handshake_step_seconds: 每步等待決策端的實際時間
//
//   3. 狀態指標 (Gauge) - 瞬時值：
//      - gymflow_tasks_queued: 等待依賴或機器隊列的任務數
//      - gymflow_tasks_executing: 當前執行中任務數
//      - gymflow_simulation_clock_seconds: 當前模擬時鐘
//
// 查詢範例:
//
//   # 決策端延遲 P95
//   histogram_quantile(0.95, rate(gymflow_handshake_step_seconds_bucket[1m]))
//
//   # 積壓任務
//   gymflow_tasks_queued
//
// HTTP 端點:
//   /metrics，預設端口 9090，僅在 metrics.enabled 開啟時提供。
//
// 所有方法都接受 nil *Collector，未啟用監控時可直接呼叫。
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the gymflow metric instruments.
type Collector struct {
	workflowsAdded  prometheus.Counter
	tasksCommitted  prometheus.Counter
	tasksDispatched prometheus.Counter
	tasksCompleted  prometheus.Counter
	handshakeSteps  prometheus.Counter

	handshakeLatency prometheus.Histogram

	tasksQueued    prometheus.Gauge
	tasksExecuting prometheus.Gauge
	clock          prometheus.Gauge
}

// NewCollector creates the instruments and registers them on reg. A nil reg
// means prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		workflowsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gymflow_workflows_added_total",
			Help: "Total number of workflows registered with the executor",
		}),
		tasksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gymflow_tasks_committed_total",
			Help: "Total number of tasks committed to a machine",
		}),
		tasksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gymflow_tasks_dispatched_total",
			Help: "Total number of tasks handed to a machine for execution",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gymflow_tasks_completed_total",
			Help: "Total number of tasks completed",
		}),
		handshakeSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gymflow_handshake_steps_total",
			Help: "Total number of decisions requested from the peer",
		}),
		handshakeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gymflow_handshake_step_seconds",
			Help:    "Wall time spent waiting for a peer decision",
			Buckets: prometheus.DefBuckets,
		}),
		tasksQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gymflow_tasks_queued",
			Help: "Committed tasks waiting in a machine queue or ready slot",
		}),
		tasksExecuting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gymflow_tasks_executing",
			Help: "Tasks currently executing",
		}),
		clock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gymflow_simulation_clock_seconds",
			Help: "Current simulated time",
		}),
	}

	reg.MustRegister(
		c.workflowsAdded,
		c.tasksCommitted,
		c.tasksDispatched,
		c.tasksCompleted,
		c.handshakeSteps,
		c.handshakeLatency,
		c.tasksQueued,
		c.tasksExecuting,
		c.clock,
	)
	return c
}

// RecordWorkflowAdded counts a registered workflow.
func (c *Collector) RecordWorkflowAdded() {
	if c == nil {
		return
	}
	c.workflowsAdded.Inc()
}

// RecordCommitted counts n commitments.
func (c *Collector) RecordCommitted(n int) {
	if c == nil {
		return
	}
	c.tasksCommitted.Add(float64(n))
}

// RecordDispatched counts n dispatches.
func (c *Collector) RecordDispatched(n int) {
	if c == nil {
		return
	}
	c.tasksDispatched.Add(float64(n))
}

// RecordCompleted counts a completion.
func (c *Collector) RecordCompleted() {
	if c == nil {
		return
	}
	c.tasksCompleted.Inc()
}

// ObserveHandshake records one peer round trip.
func (c *Collector) ObserveHandshake(d time.Duration) {
	if c == nil {
		return
	}
	c.handshakeSteps.Inc()
	c.handshakeLatency.Observe(d.Seconds())
}

// UpdateTaskStats sets the gauges from executor stats. Ready tasks count as
// queued: they are committed but not yet running.
func (c *Collector) UpdateTaskStats(stats map[string]int) {
	if c == nil {
		return
	}
	c.tasksQueued.Set(float64(stats["queued"] + stats["ready"]))
	c.tasksExecuting.Set(float64(stats["executing"]))
}

// SetClock publishes the current simulated time.
func (c *Collector) SetClock(now float64) {
	if c == nil {
		return
	}
	c.clock.Set(now)
}

// StartServer serves g on /metrics until ctx is cancelled.
func StartServer(ctx context.Context, port int, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
