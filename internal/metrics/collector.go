package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 指标收集器。
//
// 它同时实现 task.Observer 与 rehost.Observer，由 Runner 和 Rehoster
// 在关键转换点回调。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 任务指标
	taskSubmissions *prometheus.CounterVec
	taskPollRounds  *prometheus.CounterVec
	taskFinished    *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	taskAttempts    *prometheus.HistogramVec

	// 转存指标
	rehostTotal *prometheus.CounterVec
	cacheLookup *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the collectors with the default registry under
// namespace. A namespace can be registered only once per process.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith registers the collectors with reg.
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			// generate 请求会阻塞到任务结束
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"method", "path"},
	)
	c.httpResponseSize = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	c.taskSubmissions = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_submissions_total",
			Help:      "Job submissions by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
	c.taskPollRounds = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_poll_rounds_total",
			Help:      "Status queries by provider and classified state",
		},
		[]string{"provider", "state"},
	)
	c.taskFinished = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_finished_total",
			Help:      "Finished poll loops by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
	c.taskDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time from first poll wait to the terminal outcome",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"provider", "outcome"},
	)
	c.taskAttempts = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_poll_attempts",
			Help:      "Status queries needed per finished task",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200},
		},
		[]string{"provider"},
	)

	c.rehostTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rehost_urls_total",
			Help:      "Rehosted URLs by outcome",
		},
		[]string{"outcome"},
	)
	c.cacheLookup = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rehost_cache_lookups_total",
			Help:      "Rehost URL cache lookups by result",
		},
		[]string{"result"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// Submitted implements task.Observer.
func (c *Collector) Submitted(provider, outcome string) {
	c.taskSubmissions.WithLabelValues(provider, outcome).Inc()
}

// PollRound implements task.Observer.
func (c *Collector) PollRound(provider, state string) {
	c.taskPollRounds.WithLabelValues(provider, state).Inc()
}

// Finished implements task.Observer.
func (c *Collector) Finished(provider, outcome string, attempts int, elapsed time.Duration) {
	c.taskFinished.WithLabelValues(provider, outcome).Inc()
	c.taskDuration.WithLabelValues(provider, outcome).Observe(elapsed.Seconds())
	c.taskAttempts.WithLabelValues(provider).Observe(float64(attempts))
}

// Rehosted implements rehost.Observer.
func (c *Collector) Rehosted(outcome string) {
	c.rehostTotal.WithLabelValues(outcome).Inc()
}

// CacheLookup implements rehost.Observer.
func (c *Collector) CacheLookup(hit bool) {
	c.cacheLookup.WithLabelValues(strconv.FormatBool(hit)).Inc()
}

// statusClass 将 HTTP 状态码归类，499 单独保留以区分客户端取消
func statusClass(code int) string {
	switch {
	case code == 499:
		return "499"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
