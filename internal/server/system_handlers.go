package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aristath/volbalance/internal/database"
	"github.com/aristath/volbalance/internal/modules/rebalancing"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// ScheduleReporter reports upcoming scheduled runs
type ScheduleReporter interface {
	Next() []time.Time
}

// CycleStatusSource reports the cycle in flight and the last finished one
type CycleStatusSource interface {
	Status() rebalancing.CycleStatus
}

// CycleHealth is the cycle section of GET /health
type CycleHealth struct {
	Running        bool   `json:"running"`
	LastCycleID    string `json:"last_cycle_id,omitempty"`
	LastFinishedAt string `json:"last_finished_at,omitempty"`
	LastOutcome    string `json:"last_outcome,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status        string       `json:"status"`
	Service       string       `json:"service"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Cycle         *CycleHealth `json:"cycle,omitempty"`
}

// SystemStatusResponse is returned by GET /api/system/status
type SystemStatusResponse struct {
	Status        string    `json:"status"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	Databases     []string  `json:"databases_unhealthy,omitempty"`
	NextRuns      []string  `json:"next_runs,omitempty"`
	CheckedAt     time.Time `json:"checked_at"`
}

// DBInfo describes one database file
type DBInfo struct {
	Name   string  `json:"name"`
	Path   string  `json:"path"`
	SizeMB float64 `json:"size_mb"`
}

// DatabaseStatsResponse is returned by GET /api/system/database
type DatabaseStatsResponse struct {
	Databases   []DBInfo `json:"databases"`
	TotalSizeMB float64  `json:"total_size_mb"`
	LastChecked string   `json:"last_checked"`
}

// DiskUsageResponse is returned by GET /api/system/disk
type DiskUsageResponse struct {
	DataDirMB   float64 `json:"data_dir_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// SystemHandlers handles system monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	databases   map[string]*database.DB
	schedule    ScheduleReporter
	cycles      CycleStatusSource

	cpuPercent func(interval time.Duration, percpu bool) ([]float64, error)
	memory     func() (*mem.VirtualMemoryStat, error)
	diskUsage  func(path string) (*disk.UsageStat, error)
}

// NewSystemHandlers creates a new system handlers instance.
// schedule may be nil in one-shot mode.
func NewSystemHandlers(log zerolog.Logger, dataDir string, databases map[string]*database.DB, schedule ScheduleReporter) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		databases:   databases,
		schedule:    schedule,
		cpuPercent:  cpu.Percent,
		memory:      mem.VirtualMemory,
		diskUsage:   disk.Usage,
	}
}

// HandleHealth reports liveness and the last cycle outcome.
// A failed last cycle does not make the process unhealthy.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:        "healthy",
		Service:       "volbalance",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
	}

	if h.cycles != nil {
		st := h.cycles.Status()
		cycle := &CycleHealth{
			Running:     st.Running,
			LastCycleID: st.CycleID,
			LastOutcome: st.Outcome,
			LastError:   st.Error,
		}
		if !st.FinishedAt.IsZero() {
			cycle.LastFinishedAt = st.FinishedAt.Format(time.RFC3339)
		}
		response.Cycle = cycle
	}

	h.writeJSON(w, response)
}

// HandleSystemStatus returns process and host status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPct,
		MemoryPercent: memPct,
		CheckedAt:     time.Now(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	for _, name := range h.databaseNames() {
		if err := h.databases[name].HealthCheck(ctx); err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("Database health check failed")
			response.Databases = append(response.Databases, name)
			response.Status = "degraded"
		}
	}

	if h.schedule != nil {
		for _, next := range h.schedule.Next() {
			response.NextRuns = append(response.NextRuns, next.Format(time.RFC3339))
		}
	}

	h.writeJSON(w, response)
}

// HandleDatabaseStats returns database file sizes
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	databases := []DBInfo{}
	totalSizeMB := 0.0

	for _, name := range h.databaseNames() {
		db := h.databases[name]
		info, err := os.Stat(db.Path())
		if err != nil {
			continue
		}
		sizeMB := float64(info.Size()) / 1024 / 1024
		totalSizeMB += sizeMB
		databases = append(databases, DBInfo{Name: name, Path: db.Path(), SizeMB: sizeMB})
	}

	h.writeJSON(w, DatabaseStatsResponse{
		Databases:   databases,
		TotalSizeMB: totalSizeMB,
		LastChecked: time.Now().Format(time.RFC3339),
	})
}

// HandleDiskUsage returns data directory and volume usage
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	response := DiskUsageResponse{
		DataDirMB: h.getDirSize(h.dataDir),
	}

	usage, err := h.diskUsage(h.dataDir)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get disk usage")
	} else {
		response.FreeMB = float64(usage.Free) / 1024 / 1024
		response.UsedPercent = usage.UsedPercent
	}

	h.writeJSON(w, response)
}

func (h *SystemHandlers) databaseNames() []string {
	names := make([]string, 0, len(h.databases))
	for name, db := range h.databases {
		if db != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	var size int64
	_ = filepath.Walk(dirPath, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return float64(size) / 1024 / 1024
}

// getSystemStats returns CPU and RAM usage percentages.
// CPU is sampled over 100ms to keep the endpoint fast.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := h.cpuPercent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := h.memory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
