package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// ---------------------------------------------------------------------------
// Registration
//
// Describe() is used instead of Gather() because vectors with no observed
// label combination are absent from Gather output.
// ---------------------------------------------------------------------------

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
		{"crm_audit_entries_total", AuditEntriesTotal},
		{"crm_audit_ship_failures_total", AuditShipFailuresTotal},
		{"crm_rate_limit_rejections_total", RateLimitRejectionsTotal},
		{"crm_access_denied_total", AccessDeniedTotal},
		{"crm_emails_total", EmailsSentTotal},
		{"crm_file_uploads_total", FileUploadsTotal},
		{"crm_file_upload_bytes", FileUploadBytes},
		{"crm_verification_tokens_purged_total", VerificationTokensPurgedTotal},
		{"db_open_connections", DBOpenConnections},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 10)
			tc.c.Describe(ch)
			close(ch)
			for desc := range ch {
				if strings.Contains(desc.String(), `"`+tc.name+`"`) {
					return
				}
			}
			t.Errorf("metric %q: Describe() returned no descriptor with this fqName", tc.name)
		})
	}
}

func TestMetrics_AuditEntriesTotal_CanBeIncremented(t *testing.T) {
	labels := prometheus.Labels{"entity_type": "Deal", "action": "UPDATE"}
	before := counterValue(t, AuditEntriesTotal, labels)
	AuditEntriesTotal.With(labels).Inc()
	if after := counterValue(t, AuditEntriesTotal, labels); after-before < 1 {
		t.Errorf("AuditEntriesTotal did not increase (before=%.0f after=%.0f)", before, after)
	}
}

func TestMetrics_RateLimitRejections_CanBeIncremented(t *testing.T) {
	labels := prometheus.Labels{"class": "write"}
	before := counterValue(t, RateLimitRejectionsTotal, labels)
	RateLimitRejectionsTotal.With(labels).Inc()
	if after := counterValue(t, RateLimitRejectionsTotal, labels); after-before < 1 {
		t.Errorf("RateLimitRejectionsTotal did not increase")
	}
}

func TestMetrics_VerificationTokensPurged_CanBeAdded(t *testing.T) {
	before := plainCounterValue(t, VerificationTokensPurgedTotal)
	VerificationTokensPurgedTotal.Add(3)
	if after := plainCounterValue(t, VerificationTokensPurgedTotal); after-before != 3 {
		t.Errorf("VerificationTokensPurgedTotal delta = %.0f, want 3", after-before)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// counterValue reads the current value of a CounterVec for the given label set.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 50)
	cv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if labelsMatch(dm.GetLabel(), labels) {
			return dm.GetCounter().GetValue()
		}
	}
	return 0
}

// plainCounterValue reads the value of a plain (non-vec) Counter.
func plainCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		return dm.GetCounter().GetValue()
	}
	return 0
}

// labelsMatch returns true when all entries in want appear in got.
func labelsMatch(got []*dto.LabelPair, want prometheus.Labels) bool {
	for k, v := range want {
		found := false
		for _, lp := range got {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
