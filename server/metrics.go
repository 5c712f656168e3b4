package server

import (
	"net/http"
	"time"

	"github.com/beststories/go-beststories/scache"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

const metricPrefix = "beststories_"

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	format := expfmt.Negotiate(r.Header)
	w.Header().Set("Content-Type", string(format))

	enc := expfmt.NewEncoder(w, format)
	for _, mf := range metricFamilies(s.cache.Stats()) {
		if err := enc.Encode(mf); err != nil {
			log.Errorw("Cannot encode metric", "err", err, "metric", mf.GetName())
			return
		}
	}
	if closer, ok := enc.(expfmt.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Errorw("Cannot finish metrics", "err", err)
		}
	}
}

// metricFamilies converts cache stats to Prometheus metric families.
func metricFamilies(st scache.Stats) []*dto.MetricFamily {
	var inFlight float64
	if st.InFlight {
		inFlight = 1
	}
	return []*dto.MetricFamily{
		counter("refreshes_started_total", "Refreshes started.", float64(st.RefreshesStarted)),
		counter("refreshes_succeeded_total", "Refreshes that published a snapshot.", float64(st.RefreshesSucceeded)),
		counter("refreshes_failed_total", "Refreshes that published nothing.", float64(st.RefreshesFailed)),
		counter("item_errors_total", "Story fetches that failed, including timeouts.", float64(st.ItemErrors)),
		counter("item_timeouts_total", "Story fetches that timed out.", float64(st.ItemTimeouts)),
		gauge("last_success_timestamp_seconds", "Start time of the refresh that produced the newest snapshot.", unixSeconds(st.LastSuccess)),
		gauge("last_failure_timestamp_seconds", "Start time of the most recent failed refresh.", unixSeconds(st.LastFailure)),
		gauge("refresh_in_flight", "Whether a refresh is running.", inFlight),
		gauge("last_refresh_duration_seconds", "Duration of the most recent refresh.", st.LastElapsed.Seconds()),
		gauge("snapshots", "Snapshots retained.", float64(st.Snapshots)),
		gauge("validity_seconds", "How long a snapshot may be served.", st.Validity.Seconds()),
	}
}

// unixSeconds returns t as seconds since the epoch, or 0 for the zero time.
func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(metricPrefix + name),
		Help: proto.String(help),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{
			Counter: &dto.Counter{Value: proto.Float64(v)},
		}},
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(metricPrefix + name),
		Help: proto.String(help),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{
			Gauge: &dto.Gauge{Value: proto.Float64(v)},
		}},
	}
}
