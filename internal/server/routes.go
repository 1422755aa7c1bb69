package server

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/picklereef/pi-touch/internal/store"
	"github.com/picklereef/pi-touch/internal/wstrace"
	"github.com/picklereef/pi-touch/pkg/protocol"
	"github.com/picklereef/pi-touch/pkg/version"
)

const (
	maxCycleWindowHours = 24 * 7
	maxSpoolWindowHours = 24 * 90
	maxTraceEntries     = 1000
)

func (s *Server) initRouter() {
	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		api.GET("/telemetry", s.handleListTelemetry)
		api.POST("/telemetry", s.handleCreateTelemetry)
		api.GET("/telemetry/summary", s.handleTelemetrySummary)

		api.GET("/modules", s.handleListModules)
		api.PUT("/modules/:id", s.handleUpsertModule)
		api.POST("/modules/:id/control", s.handleControlModule)

		api.GET("/cycles/history", s.handleCycleHistory)
		api.GET("/spool-usage", s.handleSpoolUsage)

		api.GET("/system/info", s.handleSystemInfo)

		api.GET("/debug/ws-trace", s.handleListTrace)
		api.DELETE("/debug/ws-trace", s.handleClearTrace)
	}

	s.router.GET("/ws", s.handleModuleWS)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListTelemetry(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	entries, err := s.store.ListTelemetry(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entries)
}

type telemetryCreate struct {
	ModuleID   string     `json:"module_id" binding:"required"`
	Metric     string     `json:"metric" binding:"required"`
	Value      float64    `json:"value"`
	Unit       *string    `json:"unit"`
	CapturedAt *time.Time `json:"captured_at"`
}

func (s *Server) handleCreateTelemetry(c *gin.Context) {
	var body telemetryCreate
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	entry := &store.Telemetry{
		ModuleID:   body.ModuleID,
		Metric:     body.Metric,
		Value:      body.Value,
		Unit:       body.Unit,
		CapturedAt: time.Now().UTC(),
	}
	if body.CapturedAt != nil {
		entry.CapturedAt = body.CapturedAt.UTC()
	}
	if err := s.store.InsertTelemetry(entry); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	// Opportunistic retention pruning keeps the table bounded without a
	// dedicated maintenance job.
	if s.cfg.TelemetryRetentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.TelemetryRetentionDays)
		if _, err := s.store.PruneTelemetry(cutoff); err != nil {
			s.log.Warn().Err(err).Msg("telemetry prune failed")
		}
	}

	c.JSON(http.StatusCreated, entry)
}

func (s *Server) handleTelemetrySummary(c *gin.Context) {
	summary, err := s.store.TelemetrySummary()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

type moduleRead struct {
	store.ModuleStatus
	SpoolState map[string]any `json:"spool_state"`
}

func (s *Server) handleListModules(c *gin.Context) {
	modules, err := s.store.ListModules()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	response := make([]moduleRead, 0, len(modules))
	for _, module := range modules {
		response = append(response, moduleRead{
			ModuleStatus: module,
			SpoolState:   module.SpoolState(),
		})
	}
	c.JSON(http.StatusOK, response)
}

type moduleUpdate struct {
	Label           *string    `json:"label"`
	FirmwareVersion *string    `json:"firmware_version"`
	IPAddress       *string    `json:"ip_address"`
	RSSI            *int       `json:"rssi"`
	Status          *string    `json:"status"`
	LastSeen        *time.Time `json:"last_seen"`
}

func (s *Server) handleUpsertModule(c *gin.Context) {
	moduleID := c.Param("id")

	var body moduleUpdate
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	module, err := s.store.GetModule(moduleID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if module == nil {
		module = &store.ModuleStatus{ModuleID: moduleID, Label: moduleID, Status: "discovering"}
	}

	if body.Label != nil {
		module.Label = *body.Label
	}
	if body.FirmwareVersion != nil {
		module.FirmwareVersion = body.FirmwareVersion
	}
	if body.IPAddress != nil {
		module.IPAddress = body.IPAddress
	}
	if body.RSSI != nil {
		module.RSSI = body.RSSI
	}
	if body.Status != nil {
		module.Status = *body.Status
	}
	if body.LastSeen != nil {
		module.LastSeen = body.LastSeen.UTC()
	} else {
		module.LastSeen = time.Now().UTC()
	}

	if err := s.store.SaveModule(module); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, module)
}

func (s *Server) handleControlModule(c *gin.Context) {
	moduleID := c.Param("id")

	if !s.manager.IsConnected(moduleID) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Module " + moduleID + " is not connected"})
		return
	}

	var request protocol.ControlRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err := request.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	commands := request.Commands()
	if len(commands) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "No control values supplied"})
		return
	}

	sent := 0
	for _, command := range commands {
		payload := map[string]any{
			"type":  string(command.Type),
			"param": command.Param,
			"value": command.Value,
		}
		s.log.Info().Str("module", moduleID).Str("param", command.Param).Float64("value", command.Value).Msg("sending command")
		if s.manager.Send(moduleID, payload) {
			sent++
			s.trace.Record(wstrace.DirectionTX, payload, moduleID)
		}
	}
	if sent == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Module not ready for commands"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"commands_sent": sent})
}

type cycleStats struct {
	Count            int     `json:"count"`
	TotalDurationMS  int64   `json:"total_duration_ms"`
	AvgDurationMS    float64 `json:"avg_duration_ms"`
	FrequencyPerHour float64 `json:"frequency_per_hour"`
}

func summarizeCycles(cycles []store.CycleLog, windowHours int) cycleStats {
	stats := cycleStats{Count: len(cycles)}
	for _, cycle := range cycles {
		if cycle.DurationMS != nil {
			stats.TotalDurationMS += *cycle.DurationMS
		}
	}
	if stats.Count > 0 {
		stats.AvgDurationMS = float64(stats.TotalDurationMS) / float64(stats.Count)
	}
	if windowHours > 0 {
		stats.FrequencyPerHour = float64(stats.Count) / float64(windowHours)
	}
	return stats
}

func (s *Server) handleCycleHistory(c *gin.Context) {
	windowHours := clamp(intQuery(c, "window_hours", 24), 1, maxCycleWindowHours)
	since := time.Now().UTC().Add(-time.Duration(windowHours) * time.Hour)

	cycles, err := s.store.ListCyclesSince(since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	rollerRuns := make([]store.CycleLog, 0)
	pumpRuns := make([]store.CycleLog, 0)
	for _, cycle := range cycles {
		switch {
		case strings.HasPrefix(cycle.CycleType, "roller"):
			rollerRuns = append(rollerRuns, cycle)
		case strings.HasPrefix(cycle.CycleType, "pump"):
			pumpRuns = append(pumpRuns, cycle)
		}
	}

	rollerStats := summarizeCycles(rollerRuns, windowHours)
	atoStats := summarizeCycles(pumpRuns, windowHours)
	avgFillSeconds := 0.0
	if atoStats.Count > 0 {
		avgFillSeconds = atoStats.AvgDurationMS / 1000
	}

	c.JSON(http.StatusOK, gin.H{
		"window_hours": windowHours,
		"roller_runs":  rollerRuns,
		"roller_stats": rollerStats,
		"ato_runs":     pumpRuns,
		"ato_stats": gin.H{
			"count":              atoStats.Count,
			"total_duration_ms":  atoStats.TotalDurationMS,
			"avg_duration_ms":    atoStats.AvgDurationMS,
			"frequency_per_hour": atoStats.FrequencyPerHour,
			"avg_fill_seconds":   avgFillSeconds,
		},
	})
}

func (s *Server) handleSpoolUsage(c *gin.Context) {
	windowHours := clamp(intQuery(c, "window_hours", 72), 1, maxSpoolWindowHours)
	since := time.Now().UTC().Add(-time.Duration(windowHours) * time.Hour)
	limit := intQuery(c, "limit", 0)
	if limit < 0 {
		limit = 1
	}

	entries, err := s.store.ListSpoolUsage(c.Query("module_id"), since, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleSystemInfo(c *gin.Context) {
	cpuUsage := 0.0
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuUsage = percents[0]
	}

	memoryUsage := 0.0
	if memInfo, err := mem.VirtualMemory(); err == nil && memInfo != nil {
		memoryUsage = memInfo.UsedPercent
	}

	diskUsage := 0.0
	if du, err := disk.Usage("/"); err == nil && du != nil {
		diskUsage = du.UsedPercent
	}

	uptimeSec := uint64(0)
	if up, err := host.Uptime(); err == nil {
		uptimeSec = up
	}

	hostname, _ := os.Hostname()

	c.JSON(http.StatusOK, gin.H{
		"hostname":       hostname,
		"version":        version.Version,
		"commit":         version.Commit,
		"build_date":     version.BuildDate,
		"uptime_seconds": uptimeSec,
		"server_started": s.startTime.UTC().Format(time.RFC3339),
		"cpu_usage":      cpuUsage,
		"memory_usage":   memoryUsage,
		"disk_usage":     diskUsage,
	})
}

func (s *Server) handleListTrace(c *gin.Context) {
	limit := clamp(intQuery(c, "limit", 200), 1, maxTraceEntries)
	c.JSON(http.StatusOK, s.trace.List(limit))
}

func (s *Server) handleClearTrace(c *gin.Context) {
	s.trace.Clear()
	c.Status(http.StatusNoContent)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	value, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return fallback
	}
	return value
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

