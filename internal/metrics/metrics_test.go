package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// counterValues は指定メトリクスのラベル値（カンマ区切り）ごとのカウンタ値を返す。
func counterValues(t *testing.T, reg *prometheus.Registry, name string) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			out[labelKey(m)] = m.GetCounter().GetValue()
		}
	}
	return out
}

func labelKey(m *dto.Metric) string {
	parts := make([]string, 0, len(m.GetLabel()))
	for _, l := range m.GetLabel() {
		parts = append(parts, l.GetValue())
	}
	return strings.Join(parts, ",")
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	if c := NewCollector(prometheus.NewRegistry()); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordImageUpload_CountsBySlotAndResult は枠・結果ごとに集計されることを検証する。
func TestRecordImageUpload_CountsBySlotAndResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordImageUpload("thumbnail", true, 20*time.Millisecond)
	c.RecordImageUpload("thumbnail", true, 30*time.Millisecond)
	c.RecordImageUpload("mainImage", false, time.Second)

	got := counterValues(t, reg, "articledesk_image_uploads_total")
	if got["thumbnail,success"] != 2 {
		t.Errorf("thumbnail success = %v, want 2", got["thumbnail,success"])
	}
	if got["mainImage,failure"] != 1 {
		t.Errorf("mainImage failure = %v, want 1", got["mainImage,failure"])
	}

	families, _ := reg.Gather()
	for _, mf := range families {
		if mf.GetName() == "articledesk_image_upload_seconds" {
			if n := mf.GetMetric()[0].GetHistogram().GetSampleCount(); n != 3 {
				t.Errorf("latency samples = %d, want 3", n)
			}
			return
		}
	}
	t.Error("articledesk_image_upload_seconds metric not found")
}

// TestRecordCacheLookup_HitAndMiss はキャッシュ参照がhit/missで分かれることを検証する。
func TestRecordCacheLookup_HitAndMiss(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCacheLookup(true)
	c.RecordCacheLookup(false)
	c.RecordCacheLookup(false)

	got := counterValues(t, reg, "articledesk_list_cache_lookups_total")
	if got["hit"] != 1 || got["miss"] != 2 {
		t.Errorf("lookups = %v", got)
	}
}

// TestRecordGateDecision_CountsByState はGateの判定が状態別に集計されることを検証する。
func TestRecordGateDecision_CountsByState(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGateDecision("authorized")
	c.RecordGateDecision("unauthorized")
	c.RecordGateDecision("unauthorized")

	got := counterValues(t, reg, "articledesk_gate_decisions_total")
	if got["authorized"] != 1 || got["unauthorized"] != 2 {
		t.Errorf("decisions = %v", got)
	}
}

// TestRecordSubmission_CountsByKindAndOutcome は投稿結果が種別・結果別に集計されることを検証する。
func TestRecordSubmission_CountsByKindAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSubmission("create", "done")
	c.RecordSubmission("create", "invalid")
	c.RecordSubmission("update", "failed")

	got := counterValues(t, reg, "articledesk_submissions_total")
	for key, want := range map[string]float64{"create,done": 1, "create,invalid": 1, "update,failed": 1} {
		if got[key] != want {
			t.Errorf("%s = %v, want %v", key, got[key], want)
		}
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(403)

	got := counterValues(t, reg, "articledesk_http_status_total")
	if len(got) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(got))
	}
	if got["200"] != 2 || got["403"] != 1 {
		t.Errorf("status counts = %v", got)
	}
}

// TestRecordSessionsPurged_AddsCount は削除件数が加算されることを検証する。
func TestRecordSessionsPurged_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionsPurged(3)
	c.RecordSessionsPurged(0)

	if got := counterValues(t, reg, "articledesk_sessions_purged_total")[""]; got != 3 {
		t.Errorf("sessions purged = %v, want 3", got)
	}
}

// TestHandler_ServesPrometheusFormat はハンドラーがPrometheus形式で出力することを検証する。
func TestHandler_ServesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordSubmission("create", "done")
	c.RecordHTTPStatus(200)
	c.RecordImageUpload("thumbnail", true, time.Millisecond)
	c.RecordCacheLookup(true)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, metric := range []string{
		"articledesk_submissions_total",
		"articledesk_http_status_total",
		"articledesk_image_upload_seconds",
		"articledesk_list_cache_lookups_total",
	} {
		if !strings.Contains(string(body), metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordCacheLookup(true)
	c2.RecordCacheLookup(true)
	c2.RecordCacheLookup(true)

	if v := counterValues(t, reg1, "articledesk_list_cache_lookups_total")["hit"]; v != 1 {
		t.Errorf("reg1 hits = %v, want 1", v)
	}
	if v := counterValues(t, reg2, "articledesk_list_cache_lookups_total")["hit"]; v != 2 {
		t.Errorf("reg2 hits = %v, want 2", v)
	}
}
