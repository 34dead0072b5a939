// Metrics and stats types for Server, adapted from the teacher's
// server/metadata.go (ServerInfoMetaData/GcStats/collectGcStats), ported
// to gopsutil/v3 since that's the version the module's go.mod carries.
package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// ServerInfoMetaData holds the per-connection counters the metrics
// endpoint reports, matching the teacher's ServerInfoMetaData.
type ServerInfoMetaData struct {
	WriteOps          uint64  `json:"write_ops"`
	ReadOps           uint64  `json:"read_ops"`
	ActiveConnections uint64  `json:"active_connections"`
	TotalRequests     uint64  `json:"total_requests"`
	IndepthStats      GcStats `json:"indepth_stats"`
}

// GcStats reports the Go runtime's own view of its health, matching the
// teacher's GcStats.
type GcStats struct {
	UptimeSeconds  uint64  `json:"uptime_seconds"`
	NumGC          uint32  `json:"num_gc"`
	CPULoadPercent float64 `json:"cpu_load_percent"`
	PauseTotalNs   uint64  `json:"pause_total_ns"`
	HeapAlloc      uint64  `json:"heap_alloc"`
	HeapSys        uint64  `json:"heap_sys"`
	HeapIdle       uint64  `json:"heap_idle"`
	HeapInuse      uint64  `json:"heap_inuse"`
	HeapReleased   uint64  `json:"heap_released"`
	GCCPUFraction  float64 `json:"gc_cpu_fraction"`
	Goroutines     int     `json:"goroutines"`
}

func (smd *ServerInfoMetaData) IncrementReadOps()  { atomic.AddUint64(&smd.ReadOps, 1) }
func (smd *ServerInfoMetaData) IncrementWriteOps() { atomic.AddUint64(&smd.WriteOps, 1) }
func (smd *ServerInfoMetaData) IncrementTotalRequests() {
	atomic.AddUint64(&smd.TotalRequests, 1)
}
func (smd *ServerInfoMetaData) IncrementActiveConnections() {
	atomic.AddUint64(&smd.ActiveConnections, 1)
}
func (smd *ServerInfoMetaData) DecrementActiveConnections() {
	atomic.AddUint64(&smd.ActiveConnections, ^uint64(0))
}

// Snapshot returns a copy of smd safe to serialize without racing the
// atomic counters being incremented concurrently.
func (smd *ServerInfoMetaData) Snapshot() ServerInfoMetaData {
	return ServerInfoMetaData{
		WriteOps:          atomic.LoadUint64(&smd.WriteOps),
		ReadOps:           atomic.LoadUint64(&smd.ReadOps),
		ActiveConnections: atomic.LoadUint64(&smd.ActiveConnections),
		TotalRequests:     atomic.LoadUint64(&smd.TotalRequests),
	}
}

var startTime = time.Now()

// collectGcStats samples runtime.MemStats and a short CPU window, the
// same shape as the teacher's MonitoringConfig.collectGcStats but without
// the timestamp-gated cache: every Metrics request takes a fresh sample,
// including a 200ms CPU window.
func collectGcStats() (GcStats, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	percent, err := cpu.Percent(200*time.Millisecond, false)
	if err != nil {
		return GcStats{}, err
	}
	var load float64
	if len(percent) > 0 {
		load = percent[0]
	}

	return GcStats{
		UptimeSeconds:  uint64(time.Since(startTime).Seconds()),
		NumGC:          mem.NumGC,
		CPULoadPercent: load,
		PauseTotalNs:   mem.PauseTotalNs,
		HeapAlloc:      mem.HeapAlloc,
		HeapSys:        mem.HeapSys,
		HeapIdle:       mem.HeapIdle,
		HeapInuse:      mem.HeapInuse,
		HeapReleased:   mem.HeapReleased,
		GCCPUFraction:  mem.GCCPUFraction,
		Goroutines:     runtime.NumGoroutine(),
	}, nil
}

// Metrics serves the current stats snapshot as JSON, matching the
// teacher's Server.Metrics handler shape.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "application/json")
	gcStats, err := collectGcStats()
	if err != nil {
		http.Error(w, "error collecting runtime stats", http.StatusInternalServerError)
		return
	}
	info := s.stats.Snapshot()
	info.IndepthStats = gcStats
	evicted, _ := s.Stats()

	resp := map[string]any{
		"timeStamp":    time.Now(),
		"serverInfo":   info,
		"evictedKeys":  evicted,
		"hasReplicas":  s.replicas != nil && s.replicas.HasReplicas(),
		"loadingState": s.safety.Loading,
	}
	jsonResp, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "error generating JSON response", http.StatusInternalServerError)
		return
	}
	w.Write(jsonResp)
}
