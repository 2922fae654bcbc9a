package collection

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// IndexMetricsSnapshot is a point-in-time copy of the index counters.
type IndexMetricsSnapshot struct {
	LoadsTotal          uint64 `json:"loads_total"`
	LoadFailuresTotal   uint64 `json:"load_failures_total"`
	FreshnessHitsTotal  uint64 `json:"freshness_hits_total"`
	SnapshotWinsTotal   uint64 `json:"snapshot_wins_total"`
	RebuildWinsTotal    uint64 `json:"rebuild_wins_total"`
	SavesTotal          uint64 `json:"saves_total"`
	SaveFailuresTotal   uint64 `json:"save_failures_total"`
	SavesCoalescedTotal uint64 `json:"saves_coalesced_total"`
}

// IndexMetrics counts load/save activity for one Manifest instance.
// All record methods are nil-safe so callers never guard.
type IndexMetrics struct {
	mu sync.Mutex

	loadsTotal          uint64
	loadFailuresTotal   uint64
	freshnessHitsTotal  uint64
	snapshotWinsTotal   uint64
	rebuildWinsTotal    uint64
	savesTotal          uint64
	saveFailuresTotal   uint64
	savesCoalescedTotal uint64
}

func NewIndexMetrics() *IndexMetrics {
	return &IndexMetrics{}
}

func (m *IndexMetrics) recordLoad() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.loadsTotal++
	m.mu.Unlock()
}

func (m *IndexMetrics) recordLoadFailure() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.loadFailuresTotal++
	m.mu.Unlock()
}

func (m *IndexMetrics) recordFreshnessHit() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.freshnessHitsTotal++
	m.mu.Unlock()
}

func (m *IndexMetrics) recordSnapshotWin() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.snapshotWinsTotal++
	m.mu.Unlock()
}

func (m *IndexMetrics) recordRebuildWin() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.rebuildWinsTotal++
	m.mu.Unlock()
}

func (m *IndexMetrics) recordSave() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.savesTotal++
	m.mu.Unlock()
}

func (m *IndexMetrics) recordSaveFailure() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.saveFailuresTotal++
	m.mu.Unlock()
}

func (m *IndexMetrics) recordSaveCoalesced() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.savesCoalescedTotal++
	m.mu.Unlock()
}

func (m *IndexMetrics) Snapshot() IndexMetricsSnapshot {
	if m == nil {
		return IndexMetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return IndexMetricsSnapshot{
		LoadsTotal:          m.loadsTotal,
		LoadFailuresTotal:   m.loadFailuresTotal,
		FreshnessHitsTotal:  m.freshnessHitsTotal,
		SnapshotWinsTotal:   m.snapshotWinsTotal,
		RebuildWinsTotal:    m.rebuildWinsTotal,
		SavesTotal:          m.savesTotal,
		SaveFailuresTotal:   m.saveFailuresTotal,
		SavesCoalescedTotal: m.savesCoalescedTotal,
	}
}

func (m *IndexMetrics) OpenMetricsText() string {
	s := m.Snapshot()
	lines := []string{
		"# TYPE s3collection_index_loads_total counter",
		fmt.Sprintf("s3collection_index_loads_total %d", s.LoadsTotal),
		"# TYPE s3collection_index_load_failures_total counter",
		fmt.Sprintf("s3collection_index_load_failures_total %d", s.LoadFailuresTotal),
		"# TYPE s3collection_index_freshness_hits_total counter",
		fmt.Sprintf("s3collection_index_freshness_hits_total %d", s.FreshnessHitsTotal),
		"# TYPE s3collection_index_load_wins_total counter",
		fmt.Sprintf("s3collection_index_load_wins_total{source=\"snapshot\"} %d", s.SnapshotWinsTotal),
		fmt.Sprintf("s3collection_index_load_wins_total{source=\"rebuild\"} %d", s.RebuildWinsTotal),
		"# TYPE s3collection_index_saves_total counter",
		fmt.Sprintf("s3collection_index_saves_total %d", s.SavesTotal),
		"# TYPE s3collection_index_save_failures_total counter",
		fmt.Sprintf("s3collection_index_save_failures_total %d", s.SaveFailuresTotal),
		"# TYPE s3collection_index_saves_coalesced_total counter",
		fmt.Sprintf("s3collection_index_saves_coalesced_total %d", s.SavesCoalescedTotal),
	}
	return strings.Join(lines, "\n") + "\n"
}

// NewIndexOpenMetricsHandler exports index load/save metrics.
func NewIndexOpenMetricsHandler(m *IndexMetrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/openmetrics-text; version=1.0.0; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(m.OpenMetricsText()))
	})
}
