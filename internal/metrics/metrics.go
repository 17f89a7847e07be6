// Package metrics собирает метрики сервиса аукционов в Prometheus.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmeshcher/live-auction/internal/model"
)

// Collector реализует получателей метрик сервиса, диспетчера и реестра подписок.
type Collector struct {
	bids               *prometheus.CounterVec
	settlementStages   *prometheus.CounterVec
	settlementDuration prometheus.Histogram
	relayed            *prometheus.CounterVec
	dropped            *prometheus.CounterVec
	sessions           prometheus.Gauge
}

// NewCollector создаёт Collector и регистрирует метрики в reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_bids_total",
			Help: "Bid submissions by outcome.",
		}, []string{"outcome"}),
		settlementStages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_settlement_stages_total",
			Help: "Settlement stage executions by stage and result.",
		}, []string{"stage", "result"}),
		settlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auction_settlement_duration_seconds",
			Help:    "Time to settle a lot.",
			Buckets: prometheus.DefBuckets,
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_relay_frames_total",
			Help: "Frames pushed to local subscribers by bus topic.",
		}, []string{"topic"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_relay_dropped_total",
			Help: "Frames dropped for slow subscribers by channel.",
		}, []string{"channel"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auction_local_sessions",
			Help: "Push subscriptions open on this replica.",
		}),
	}

	reg.MustRegister(
		c.bids,
		c.settlementStages,
		c.settlementDuration,
		c.relayed,
		c.dropped,
		c.sessions,
	)

	return c
}

// BidSubmitted учитывает попытку ставки.
func (c *Collector) BidSubmitted(outcome string) {
	c.bids.WithLabelValues(outcome).Inc()
}

// SettlementStage учитывает выполнение шага подведения итогов.
func (c *Collector) SettlementStage(stage model.SettlementStage, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.settlementStages.WithLabelValues(string(stage), result).Inc()
}

// SettlementDuration учитывает длительность подведения итогов.
func (c *Collector) SettlementDuration(d time.Duration) {
	c.settlementDuration.Observe(d.Seconds())
}

// EventRelayed учитывает кадры, разосланные по событию шины.
func (c *Collector) EventRelayed(topic string, delivered int) {
	c.relayed.WithLabelValues(topic).Add(float64(delivered))
}

// FrameDropped учитывает отброшенный кадр.
func (c *Collector) FrameDropped(dest string) {
	c.dropped.WithLabelValues(channelOf(dest)).Inc()
}

// SessionsChanged обновляет число подписок.
func (c *Collector) SessionsChanged(total int64) {
	c.sessions.Set(float64(total))
}

func channelOf(dest string) string {
	channel, _, _ := strings.Cut(dest, "/")
	return channel
}

// Handler возвращает HTTP-обработчик для сбора метрик.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
