package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rentacoder/backend/internal/models"
	"github.com/rentacoder/backend/internal/services"
	"github.com/rentacoder/backend/pkg/logger"
	"gorm.io/gorm"
)

var startTime = time.Now()

const metricsQueryTimeout = 5 * time.Second

type MetricsHandler struct {
	handler http.Handler
}

// NewMetricsHandler builds a registry with runtime, connection pool and
// marketplace gauges. Each handler owns its registry.
func NewMetricsHandler(db *gorm.DB, queue services.TaskQueue) *MetricsHandler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "rentacoder_uptime_seconds",
			Help: "Time since server start in seconds",
		}, func() float64 { return time.Since(startTime).Seconds() }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "rentacoder_mail_queue_async_enabled",
			Help: "Whether the Redis mail queue is enabled (1=yes, 0=no)",
		}, func() float64 {
			if queue != nil && queue.IsAsync() {
				return 1
			}
			return 0
		}),
	)

	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			reg.MustRegister(collectors.NewDBStatsCollector(sqlDB, "rentacoder"))
		}
		reg.MustRegister(newMarketplaceCollector(db))
	}

	return &MetricsHandler{
		handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
}

// Metrics serves the Prometheus exposition format.
// GET /metrics
func (h *MetricsHandler) Metrics(c *gin.Context) {
	gin.WrapH(h.handler)(c)
}

type countGauge struct {
	desc  *prometheus.Desc
	query func(db *gorm.DB) *gorm.DB
}

// marketplaceCollector counts rows on every scrape. A failing count is
// logged and its gauge left out rather than reported as zero.
type marketplaceCollector struct {
	db     *gorm.DB
	gauges []countGauge
}

func newMarketplaceCollector(db *gorm.DB) *marketplaceCollector {
	gauge := func(name, help string, query func(db *gorm.DB) *gorm.DB) countGauge {
		return countGauge{desc: prometheus.NewDesc(name, help, nil, nil), query: query}
	}
	return &marketplaceCollector{
		db: db,
		gauges: []countGauge{
			gauge("rentacoder_users_active", "Number of active users", func(db *gorm.DB) *gorm.DB {
				return db.Model(&models.User{}).Where("is_active = ?", true)
			}),
			gauge("rentacoder_projects_open", "Number of open projects", func(db *gorm.DB) *gorm.DB {
				return db.Model(&models.Project{}).Where("closed = ?", false)
			}),
			gauge("rentacoder_projects_closed", "Number of closed projects", func(db *gorm.DB) *gorm.DB {
				return db.Model(&models.Project{}).Where("closed = ?", true)
			}),
			gauge("rentacoder_offers_total", "Number of job offers", func(db *gorm.DB) *gorm.DB {
				return db.Model(&models.JobOffer{})
			}),
			gauge("rentacoder_offers_accepted", "Number of accepted job offers", func(db *gorm.DB) *gorm.DB {
				return db.Model(&models.JobOffer{}).Where("accepted = ?", true)
			}),
			gauge("rentacoder_scores_pending", "Score records with at least one half pending", func(db *gorm.DB) *gorm.DB {
				return db.Model(&models.ProjectScore{}).
					Where("owner_score = ? OR coder_score = ?", models.ScorePending, models.ScorePending)
			}),
		},
	}
}

func (m *marketplaceCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range m.gauges {
		ch <- g.desc
	}
}

func (m *marketplaceCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), metricsQueryTimeout)
	defer cancel()
	db := m.db.WithContext(ctx)

	for _, g := range m.gauges {
		var n int64
		if err := g.query(db).Count(&n).Error; err != nil {
			logger.Warn().Err(err).Str("metric", g.desc.String()).Msg("[Metrics] Count failed, skipping gauge")
			continue
		}
		ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, float64(n))
	}
}
