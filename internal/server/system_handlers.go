package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/custodian/internal/config"
	"github.com/aristath/custodian/internal/database"
	"github.com/aristath/custodian/internal/scheduler"
)

// SystemHandlers serves process health, database statistics and manual job
// triggers.
type SystemHandlers struct {
	log         zerolog.Logger
	cfg         *config.Config
	startupTime time.Time
	databases   []*database.DB
	sched       *scheduler.Scheduler
	jobs        map[string]scheduler.Job
}

// NewSystemHandlers creates a new system handlers instance. sched and jobs
// may be nil; the trigger endpoints then report the job as unregistered.
func NewSystemHandlers(
	log zerolog.Logger,
	cfg *config.Config,
	ledgerDB, artifactsDB, cacheDB *database.DB,
	sched *scheduler.Scheduler,
	jobs []scheduler.Job,
) *SystemHandlers {
	byName := make(map[string]scheduler.Job, len(jobs))
	for _, job := range jobs {
		if job != nil {
			byName[job.Name()] = job
		}
	}

	databases := make([]*database.DB, 0, 3)
	for _, db := range []*database.DB{ledgerDB, artifactsDB, cacheDB} {
		if db != nil {
			databases = append(databases, db)
		}
	}

	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		cfg:         cfg,
		startupTime: time.Now(),
		databases:   databases,
		sched:       sched,
		jobs:        byName,
	}
}

// RegisterRoutes registers all system routes
func (h *SystemHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/system", func(r chi.Router) {
		r.Get("/status", h.HandleSystemStatus)
		r.Get("/databases", h.HandleDatabaseStats)
		r.Post("/jobs/{jobName}", h.HandleTriggerJob)
	})
}

// DBInfo describes one database file.
type DBInfo struct {
	Name    string  `json:"name"`
	Path    string  `json:"path"`
	SizeMB  float64 `json:"size_mb"`
	Healthy bool    `json:"healthy"`
}

// SystemStatusResponse is the /system/status payload.
type SystemStatusResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	CPUPercent    float64  `json:"cpu_percent"`
	MemoryPercent float64  `json:"memory_percent"`
	Databases     []DBInfo `json:"databases"`
}

// HandleSystemStatus returns process and database health.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, memPercent := h.getSystemStats()

	status := "healthy"
	databases := h.databaseInfos(r.Context())
	for _, db := range databases {
		if !db.Healthy {
			status = "degraded"
		}
	}

	h.writeJSON(w, http.StatusOK, SystemStatusResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Databases:     databases,
	})
}

// DatabaseStatsResponse is the /system/databases payload.
type DatabaseStatsResponse struct {
	Databases   []DBInfo `json:"databases"`
	TotalSizeMB float64  `json:"total_size_mb"`
	LastChecked string   `json:"last_checked"`
}

// HandleDatabaseStats returns database statistics
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting database stats")

	databases := h.databaseInfos(r.Context())
	totalSizeMB := 0.0
	for _, db := range databases {
		totalSizeMB += db.SizeMB
	}

	h.writeJSON(w, http.StatusOK, DatabaseStatsResponse{
		Databases:   databases,
		TotalSizeMB: totalSizeMB,
		LastChecked: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleTriggerJob runs one scheduled job immediately.
// POST /api/system/jobs/{jobName}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "jobName")

	job, ok := h.jobs[name]
	if !ok || h.sched == nil {
		h.log.Warn().Str("job", name).Msg("Manual trigger for unregistered job")
		h.writeJSON(w, http.StatusNotFound, map[string]string{
			"status":  "error",
			"message": "job not registered: " + name,
		})
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job trigger")
	if err := h.sched.RunNow(job); err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "job " + name + " completed",
	})
}

func (h *SystemHandlers) databaseInfos(ctx context.Context) []DBInfo {
	infos := make([]DBInfo, 0, len(h.databases))
	for _, db := range h.databases {
		info := DBInfo{
			Name:    db.Name(),
			Path:    db.Path(),
			Healthy: db.HealthCheck(ctx) == nil,
		}
		if stat, err := os.Stat(db.Path()); err == nil {
			info.SizeMB = float64(stat.Size()) / 1024 / 1024
		}
		infos = append(infos, info)
	}
	return infos
}

// getSystemStats calculates CPU and RAM usage percentages. The short CPU
// sampling interval keeps the status endpoint responsive.
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

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
