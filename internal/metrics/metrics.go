package metrics

import (
	"time"

	"github.com/KW781kazu/voicebot/internal/callsession"
	"github.com/KW781kazu/voicebot/internal/fallback"
	"github.com/KW781kazu/voicebot/internal/followup"
	"github.com/prometheus/client_golang/prometheus"
)

// SessionStatsProvider exposes media-stream session totals.
type SessionStatsProvider interface {
	Snapshot() callsession.Snapshot
}

// FollowUpStatsProvider exposes follow-up message totals.
type FollowUpStatsProvider interface {
	Stats() followup.Stats
}

// FallbackStatusProvider exposes the degraded-mode gate.
type FallbackStatusProvider interface {
	Status() fallback.Status
}

// RecentCounter returns the number of calls held in recent history.
type RecentCounter interface {
	Len() int
}

// Collector is a prometheus.Collector that gathers voicebot metrics at scrape time.
type Collector struct {
	sessions  SessionStatsProvider
	followUps FollowUpStatsProvider
	fallback  FallbackStatusProvider
	recent    RecentCounter
	startTime time.Time

	// Metric descriptors.
	activeStreamsDesc     *prometheus.Desc
	streamsTotalDesc      *prometheus.Desc
	repliesTotalDesc      *prometheus.Desc
	redirectFailuresDesc  *prometheus.Desc
	transportFailuresDesc *prometheus.Desc
	decodeErrorsDesc      *prometheus.Desc
	followUpsPendingDesc  *prometheus.Desc
	followUpsTotalDesc    *prometheus.Desc
	fallbackActiveDesc    *prometheus.Desc
	recentCallsDesc       *prometheus.Desc
	uptimeDesc            *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	sessions SessionStatsProvider,
	followUps FollowUpStatsProvider,
	fallback FallbackStatusProvider,
	recent RecentCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		sessions:  sessions,
		followUps: followUps,
		fallback:  fallback,
		recent:    recent,
		startTime: startTime,

		activeStreamsDesc: prometheus.NewDesc(
			"voicebot_active_streams",
			"Number of media streams currently being served",
			nil, nil,
		),
		streamsTotalDesc: prometheus.NewDesc(
			"voicebot_streams_total",
			"Total number of media streams accepted",
			nil, nil,
		),
		repliesTotalDesc: prometheus.NewDesc(
			"voicebot_replies_total",
			"Total number of spoken replies delivered by call redirect",
			nil, nil,
		),
		redirectFailuresDesc: prometheus.NewDesc(
			"voicebot_redirect_failures_total",
			"Total number of failed call redirects",
			nil, nil,
		),
		transportFailuresDesc: prometheus.NewDesc(
			"voicebot_transport_failures_total",
			"Total number of media streams that ended with a transport error",
			nil, nil,
		),
		decodeErrorsDesc: prometheus.NewDesc(
			"voicebot_decode_errors_total",
			"Total number of media frames dropped as undecodable",
			nil, nil,
		),
		followUpsPendingDesc: prometheus.NewDesc(
			"voicebot_followups_pending",
			"Follow-up messages waiting for caller numbers",
			nil, nil,
		),
		followUpsTotalDesc: prometheus.NewDesc(
			"voicebot_followups_total",
			"Follow-up message send attempts by result",
			[]string{"result"}, nil,
		),
		fallbackActiveDesc: prometheus.NewDesc(
			"voicebot_fallback_active",
			"Degraded mode (1=active, 0=normal)",
			[]string{"forced"}, nil,
		),
		recentCallsDesc: prometheus.NewDesc(
			"voicebot_recent_calls",
			"Calls held in the in-memory recent history",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"voicebot_uptime_seconds",
			"Seconds since the voicebot process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeStreamsDesc
	ch <- c.streamsTotalDesc
	ch <- c.repliesTotalDesc
	ch <- c.redirectFailuresDesc
	ch <- c.transportFailuresDesc
	ch <- c.decodeErrorsDesc
	ch <- c.followUpsPendingDesc
	ch <- c.followUpsTotalDesc
	ch <- c.fallbackActiveDesc
	ch <- c.recentCallsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It reads all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.sessions != nil {
		snap := c.sessions.Snapshot()
		ch <- prometheus.MustNewConstMetric(c.activeStreamsDesc, prometheus.GaugeValue, float64(snap.Active))
		ch <- prometheus.MustNewConstMetric(c.streamsTotalDesc, prometheus.CounterValue, float64(snap.Started))
		ch <- prometheus.MustNewConstMetric(c.repliesTotalDesc, prometheus.CounterValue, float64(snap.Replies))
		ch <- prometheus.MustNewConstMetric(c.redirectFailuresDesc, prometheus.CounterValue, float64(snap.RedirectFailures))
		ch <- prometheus.MustNewConstMetric(c.transportFailuresDesc, prometheus.CounterValue, float64(snap.TransportFailures))
		ch <- prometheus.MustNewConstMetric(c.decodeErrorsDesc, prometheus.CounterValue, float64(snap.DecodeErrors))
	}

	if c.followUps != nil {
		st := c.followUps.Stats()
		ch <- prometheus.MustNewConstMetric(c.followUpsPendingDesc, prometheus.GaugeValue, float64(st.Pending))
		ch <- prometheus.MustNewConstMetric(c.followUpsTotalDesc, prometheus.CounterValue, float64(st.Delivered), "delivered")
		ch <- prometheus.MustNewConstMetric(c.followUpsTotalDesc, prometheus.CounterValue, float64(st.Failed), "failed")
	}

	if c.fallback != nil {
		st := c.fallback.Status()
		val := 0.0
		if st.Active {
			val = 1.0
		}
		forced := "false"
		if st.Forced {
			forced = "true"
		}
		ch <- prometheus.MustNewConstMetric(c.fallbackActiveDesc, prometheus.GaugeValue, val, forced)
	}

	if c.recent != nil {
		ch <- prometheus.MustNewConstMetric(c.recentCallsDesc, prometheus.GaugeValue, float64(c.recent.Len()))
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
