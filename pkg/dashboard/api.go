package dashboard

import (
	"errors"
	"net/http"
	"runtime"
	"strings"

	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/runner"
)

// StatusResponse is the response for /api/status.
type StatusResponse struct {
	IsRunning     bool    `json:"isRunning"`
	NodeStatus    string  `json:"nodeStatus"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Runs          uint64  `json:"runs"`
	CacheHits     uint64  `json:"cacheHits"`
	HitRate       float64 `json:"hitRate"`
	Faults        uint64  `json:"faults"`
	Searches      uint64  `json:"searches"`
	StepsTotal    uint64  `json:"stepsTotal"`
	CachedCount   uint64  `json:"cachedCount"`
	ImageCount    uint64  `json:"imageCount"`
	LastError     string  `json:"lastError,omitempty"`
}

// ImageResponse is one entry of /api/images, or the body of
// /api/images/{ref}.
type ImageResponse struct {
	imagestore.ImageMeta
	Program string `json:"program,omitempty"`
}

// MetricsResponse is the response for /api/metrics.
type MetricsResponse struct {
	// Memory stats
	MemAlloc      uint64 `json:"memAlloc"`
	MemTotalAlloc uint64 `json:"memTotalAlloc"`
	MemSys        uint64 `json:"memSys"`
	MemHeapInuse  uint64 `json:"memHeapInuse"`
	MemHeapIdle   uint64 `json:"memHeapIdle"`
	NumGC         uint32 `json:"numGC"`

	// Runtime stats
	NumGoroutine int    `json:"numGoroutine"`
	NumCPU       int    `json:"numCPU"`
	GoVersion    string `json:"goVersion"`

	// Storage stats
	ImageCount   uint64 `json:"imageCount"`
	DatabaseSize int64  `json:"databaseSize"`
	CachedCount  uint64 `json:"cachedCount"`

	// Execution stats
	Runs       uint64  `json:"runs"`
	StepsTotal uint64  `json:"stepsTotal"`
	Uptime     float64 `json:"uptimeSeconds"`
}

// handleAPIStatus handles GET /api/status.
func (d *Dashboard) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data := d.getStatusData()
	uptime := d.uptime()

	resp := StatusResponse{
		IsRunning:     data["IsRunning"].(bool),
		NodeStatus:    data["NodeStatus"].(string),
		Uptime:        formatDuration(uptime),
		UptimeSeconds: uptime.Seconds(),
		Runs:          data["Runs"].(uint64),
		CacheHits:     data["CacheHits"].(uint64),
		HitRate:       data["HitRate"].(float64),
		Faults:        data["Faults"].(uint64),
		Searches:      data["Searches"].(uint64),
		StepsTotal:    data["StepsTotal"].(uint64),
		CachedCount:   data["CachedCount"].(uint64),
	}
	if n, ok := data["ImageCount"].(uint64); ok {
		resp.ImageCount = n
	}
	if msg, ok := data["LastError"].(string); ok {
		resp.LastError = msg
	}

	writeJSON(w, resp)
}

// handleAPIImages handles GET /api/images and GET /api/images/{ref}.
func (d *Dashboard) handleAPIImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ref := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/api/images"), "/")
	if ref == "" {
		metas, err := d.listImages()
		if err != nil {
			writeError(w, err.Error(), statusOf(err))
			return
		}
		resp := make([]ImageResponse, len(metas))
		for i, m := range metas {
			resp[i] = ImageResponse{ImageMeta: m}
		}
		writeJSON(w, resp)
		return
	}

	id, program, err := d.lookupImage(ref)
	if err != nil {
		writeError(w, err.Error(), statusOf(err))
		return
	}
	resp := ImageResponse{Program: program.String()}
	if meta, err := d.imageStore().Meta(id); err == nil {
		resp.ImageMeta = *meta
	} else {
		resp.ID = id
		resp.Words = len(program)
	}
	writeJSON(w, resp)
}

// handleAPIMetrics handles GET /api/metrics.
func (d *Dashboard) handleAPIMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	memStats := getMemStats()

	resp := MetricsResponse{
		MemAlloc:      memStats.Alloc,
		MemTotalAlloc: memStats.TotalAlloc,
		MemSys:        memStats.Sys,
		MemHeapInuse:  memStats.HeapInuse,
		MemHeapIdle:   memStats.HeapIdle,
		NumGC:         memStats.NumGC,

		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),

		Uptime: d.uptime().Seconds(),
	}

	if store := d.imageStore(); store != nil {
		if stats, err := store.Stats(); err == nil {
			resp.ImageCount = stats.ImageCount
			resp.DatabaseSize = stats.DatabaseSize
		}
	}
	if d.runner != nil {
		stats := d.runner.Stats()
		resp.Runs = stats.Runs
		resp.StepsTotal = stats.StepsTotal
		resp.CachedCount = stats.CachedCount
	}

	writeJSON(w, resp)
}

// statusOf maps lookup errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, imagestore.ErrImageNotFound):
		return http.StatusNotFound
	case errors.Is(err, runner.ErrNoImageStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
