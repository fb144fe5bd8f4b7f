package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// We check registration via Describe() rather than DefaultGatherer.Gather()
// because Gather() only returns series that have been observed at least once;
// *Vec metrics with no label combinations yet used are silently absent from
// Gather output even though they are correctly registered.
func TestMetrics_AllRegistered(t *testing.T) {
	type describer interface {
		Describe(chan<- *prometheus.Desc)
	}

	cases := []struct {
		name string
		c    describer
	}{
		{"http_requests_total", HTTPRequestsTotal},
		{"http_request_duration_seconds", HTTPRequestDuration},
		{"blueprint_publishes_total", PublishesTotal},
		{"blueprint_secret_findings_total", SecretFindingsTotal},
		{"blueprint_package_downloads_total", PackageDownloadsTotal},
		{"blueprint_chunk_fallback_writes_total", ChunkFallbackWritesTotal},
		{"blueprint_stars_total", StarsTotal},
		{"blueprint_comments_total", CommentsTotal},
		{"auth_exchanges_total", AuthExchangesTotal},
		{"db_open_connections", DBOpenConnections},
	}

	for _, tc := range cases {
		ch := make(chan *prometheus.Desc, 8)
		tc.c.Describe(ch)
		close(ch)
		found := false
		for desc := range ch {
			if strings.Contains(desc.String(), tc.name) {
				found = true
			}
		}
		if !found {
			t.Errorf("metric %s: descriptor does not carry expected name", tc.name)
		}
	}
}

func TestMetrics_CountersIncrement(t *testing.T) {
	PublishesTotal.WithLabelValues("approved").Inc()
	SecretFindingsTotal.WithLabelValues("aws-access-key").Inc()
	PackageDownloadsTotal.WithLabelValues("chunks").Add(2)

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	find := func(name string) *dto.MetricFamily {
		for _, mf := range mfs {
			if mf.GetName() == name {
				return mf
			}
		}
		return nil
	}

	if mf := find("blueprint_publishes_total"); mf == nil || len(mf.Metric) == 0 {
		t.Error("blueprint_publishes_total not gathered after increment")
	}
	if mf := find("blueprint_package_downloads_total"); mf == nil {
		t.Error("blueprint_package_downloads_total not gathered after increment")
	} else {
		var total float64
		for _, m := range mf.Metric {
			total += m.GetCounter().GetValue()
		}
		if total < 2 {
			t.Errorf("blueprint_package_downloads_total = %v, want >= 2", total)
		}
	}
}
