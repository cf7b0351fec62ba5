package server

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/minvar/internal/database"
)

// SystemStatusResponse describes the host and the runs database.
type SystemStatusResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	GoVersion     string  `json:"go_version"`
	Goroutines    int     `json:"goroutines"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DatabaseMB    float64 `json:"database_mb"`
	LastChecked   string  `json:"last_checked"`
}

// SystemHandlers serves host status
type SystemHandlers struct {
	db      *database.DB
	started time.Time
	log     zerolog.Logger
}

// NewSystemHandlers creates system handlers
func NewSystemHandlers(db *database.DB, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		db:      db,
		started: time.Now(),
		log:     log.With().Str("handler", "system").Logger(),
	}
}

// HandleSystemStatus returns CPU, memory and database size
// GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		DatabaseMB:    h.databaseSizeMB(),
		LastChecked:   time.Now().Format(time.RFC3339),
	}

	writeJSON(w, http.StatusOK, response)
}

// getSystemStats samples CPU over 100ms so the endpoint stays responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
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

func (h *SystemHandlers) databaseSizeMB() float64 {
	if h.db == nil {
		return 0
	}

	var total int64
	for _, suffix := range []string{"", "-wal"} {
		if info, err := os.Stat(h.db.Path() + suffix); err == nil {
			total += info.Size()
		}
	}
	return float64(total) / 1024 / 1024
}
