package metrics

import (
	"net/http"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trueswiftie"

// Collector 游戏和实时连接指标
type Collector struct {
	registry *prometheus.Registry

	sessionsStarted  prometheus.Counter
	sessionsEnded    prometheus.Counter
	finalScore       prometheus.Histogram
	guesses          *prometheus.CounterVec
	versionConflicts prometheus.Counter
	httpRequests     *prometheus.CounterVec
}

// New 创建指标收集器，使用独立的 registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Number of game sessions started.",
		}),
		sessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Number of game sessions ended.",
		}),
		finalScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_final_score",
			Help:      "Score of ended sessions.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 35, 50, 100},
		}),
		guesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guesses_total",
			Help:      "Evaluated guesses by outcome.",
		}, []string{"outcome"}),
		versionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflicts_total",
			Help:      "Mutations rejected because of a stale version.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.sessionsStarted,
		c.sessionsEnded,
		c.finalScore,
		c.guesses,
		c.versionConflicts,
		c.httpRequests,
	)
	return c
}

// SessionStarted 会话开始
func (c *Collector) SessionStarted() {
	c.sessionsStarted.Inc()
}

// SessionEnded 会话结束
func (c *Collector) SessionEnded(score int) {
	c.sessionsEnded.Inc()
	c.finalScore.Observe(float64(score))
}

// GuessEvaluated 一次作答
func (c *Collector) GuessEvaluated(outcome models.TurnOutcome) {
	c.guesses.WithLabelValues(string(outcome)).Inc()
}

// VersionConflict 版本冲突
func (c *Collector) VersionConflict() {
	c.versionConflicts.Inc()
}

// ObserveRequest HTTP请求
func (c *Collector) ObserveRequest(method, route, code string) {
	c.httpRequests.WithLabelValues(method, route, code).Inc()
}

// RegisterGauge 注册按需读取的仪表，例如房间数和连接数
func (c *Collector) RegisterGauge(name, help string, fn func() float64) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Registry 底层 registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler /metrics 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
