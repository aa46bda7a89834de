package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestMetrics_IncAndGet(t *testing.T) {
	m := New()
	if got := m.Get(RelaysDelivered); got != 0 {
		t.Fatalf("expected zero counter, got %d", got)
	}
	m.Inc(RelaysDelivered)
	m.Inc(RelaysDelivered)
	m.Inc(BadMessages)
	if got := m.Get(RelaysDelivered); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := m.Get(BadMessages); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}

func TestMetrics_NilReceiverIncIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(RelaysDelivered)
}

func TestMetrics_ConcurrentInc(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MembersJoined)
			}
		}()
	}
	wg.Wait()
	if got := m.Get(MembersJoined); got != 8000 {
		t.Fatalf("expected 8000, got %d", got)
	}
}

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(RoomsCreated)
	m.Inc(RoomsCreated)
	m.Inc(RateLimited)

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	resp := rec.Result()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	text := string(body)
	if !strings.Contains(text, `signaling_relay_events_total{event="rooms_created"} 2`) {
		t.Fatalf("missing rooms_created counter in:\n%s", text)
	}
	if !strings.Contains(text, `signaling_relay_events_total{event="rate_limited"} 1`) {
		t.Fatalf("missing rate_limited counter in:\n%s", text)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestPrometheusHandler_NilMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 500 {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
