package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/KW781kazu/voicebot/internal/callsession"
	"github.com/KW781kazu/voicebot/internal/fallback"
	"github.com/KW781kazu/voicebot/internal/followup"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type fakeSessions struct{ snap callsession.Snapshot }

func (f fakeSessions) Snapshot() callsession.Snapshot { return f.snap }

type fakeFollowUps struct{ st followup.Stats }

func (f fakeFollowUps) Stats() followup.Stats { return f.st }

type fakeFallback struct{ st fallback.Status }

func (f fakeFallback) Status() fallback.Status { return f.st }

type fakeRecent int

func (f fakeRecent) Len() int { return int(f) }

func gather(t *testing.T, c prometheus.Collector) map[string][]*dto.Metric {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string][]*dto.Metric, len(families))
	for _, f := range families {
		out[f.GetName()] = f.GetMetric()
	}
	return out
}

func value(m *dto.Metric) float64 {
	if m.GetGauge() != nil {
		return m.GetGauge().GetValue()
	}
	return m.GetCounter().GetValue()
}

func TestCollectorAllProviders(t *testing.T) {
	c := NewCollector(
		fakeSessions{callsession.Snapshot{Active: 2, Started: 10, Replies: 7, RedirectFailures: 1, TransportFailures: 3, DecodeErrors: 4}},
		fakeFollowUps{followup.Stats{Pending: 1, Delivered: 5, Failed: 2}},
		fakeFallback{fallback.Status{Active: true, Forced: true}},
		fakeRecent(6),
		time.Now().Add(-time.Minute),
	)

	got := gather(t, c)

	single := map[string]float64{
		"voicebot_active_streams":           2,
		"voicebot_streams_total":            10,
		"voicebot_replies_total":            7,
		"voicebot_redirect_failures_total":  1,
		"voicebot_transport_failures_total": 3,
		"voicebot_decode_errors_total":      4,
		"voicebot_followups_pending":        1,
		"voicebot_recent_calls":             6,
		"voicebot_fallback_active":          1,
	}
	for name, want := range single {
		ms := got[name]
		if len(ms) != 1 {
			t.Errorf("%s: got %d series, want 1", name, len(ms))
			continue
		}
		if v := value(ms[0]); v != want {
			t.Errorf("%s = %v, want %v", name, v, want)
		}
	}

	results := map[string]float64{}
	for _, m := range got["voicebot_followups_total"] {
		for _, l := range m.GetLabel() {
			if l.GetName() == "result" {
				results[l.GetValue()] = value(m)
			}
		}
	}
	if results["delivered"] != 5 || results["failed"] != 2 {
		t.Errorf("followups_total = %v", results)
	}

	if up := got["voicebot_uptime_seconds"]; len(up) != 1 || value(up[0]) < 59 {
		t.Errorf("uptime = %v", up)
	}
}

func TestCollectorNilProviders(t *testing.T) {
	c := NewCollector(nil, nil, nil, nil, time.Now())
	got := gather(t, c)

	if len(got) != 1 {
		names := make([]string, 0, len(got))
		for n := range got {
			names = append(names, n)
		}
		t.Fatalf("families = %s, want only uptime", strings.Join(names, ","))
	}
	if _, ok := got["voicebot_uptime_seconds"]; !ok {
		t.Error("uptime missing")
	}
}
