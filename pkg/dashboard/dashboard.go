// Package dashboard provides an embedded web dashboard for monitoring an
// intcode node.
//
// The dashboard provides:
// - Node health and execution counters
// - Image catalog browser
// - Program text of a stored image
// - System metrics (memory, goroutines, uptime)
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/runner"
)

// Config holds dashboard configuration options.
type Config struct {
	// Addr is the listen address. Default: "127.0.0.1:8652"
	Addr string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// IdleTimeout is the maximum time to wait for the next request.
	IdleTimeout time.Duration

	// MaxProgramWords limits how much of a program the image page shows.
	MaxProgramWords int
}

// DefaultConfig returns the default dashboard configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:8652",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxProgramWords: 4096,
	}
}

// NodeStats provides node lifecycle information to the dashboard.
type NodeStats interface {
	// IsRunning returns true if the node is running.
	IsRunning() bool

	// Uptime returns how long the node has been running.
	Uptime() time.Duration

	// LastError returns the last error encountered, if any.
	LastError() error
}

// Dashboard is the web dashboard server.
type Dashboard struct {
	config    Config
	runner    *runner.Runner
	nodeStats NodeStats

	templates *template.Template

	mu        sync.Mutex
	server    *http.Server
	running   bool
	startTime time.Time
}

// New creates a new dashboard. stats may be nil.
func New(config Config, r *runner.Runner, stats NodeStats) (*Dashboard, error) {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.MaxProgramWords <= 0 {
		config.MaxProgramWords = defaults.MaxProgramWords
	}

	d := &Dashboard{
		config:    config,
		runner:    r,
		nodeStats: stats,
		startTime: time.Now(),
	}

	tmpl, err := d.parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	d.templates = tmpl

	return d, nil
}

// parseTemplates parses all embedded templates.
func (d *Dashboard) parseTemplates() (*template.Template, error) {
	funcMap := template.FuncMap{
		"formatDuration": formatDuration,
		"formatNumber":   formatNumber,
		"formatBytes":    formatBytes,
		"formatTime":     func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04:05 UTC") },
		"int64":          func(n int) int64 { return int64(n) },
	}

	tmpl := template.New("").Funcs(funcMap)
	if _, err := tmpl.New("layout").Parse(layoutTemplate); err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	templates := map[string]string{
		"home":   homeTemplate,
		"images": imagesTemplate,
		"image":  imageDetailTemplate,
	}
	for name, content := range templates {
		if _, err := tmpl.New(name).Parse(content); err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
	}

	return tmpl, nil
}

// Handler returns the dashboard's HTTP handler.
func (d *Dashboard) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/static/", d.handleStatic)

	// Page routes
	mux.HandleFunc("/", d.handleHome)
	mux.HandleFunc("/images", d.handleImages)
	mux.HandleFunc("/images/", d.handleImageDetail)

	// API routes
	mux.HandleFunc("/api/status", d.handleAPIStatus)
	mux.HandleFunc("/api/images", d.handleAPIImages)
	mux.HandleFunc("/api/images/", d.handleAPIImages)
	mux.HandleFunc("/api/metrics", d.handleAPIMetrics)

	return mux
}

// Start listens on the configured address and serves until ctx is done.
func (d *Dashboard) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.config.Addr, err)
	}
	return d.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done or Stop is called.
func (d *Dashboard) Serve(ctx context.Context, ln net.Listener) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		ln.Close()
		return fmt.Errorf("dashboard already running")
	}
	d.running = true
	d.server = &http.Server{
		Handler:      d.Handler(),
		ReadTimeout:  d.config.ReadTimeout,
		WriteTimeout: d.config.WriteTimeout,
		IdleTimeout:  d.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	srv := d.server
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.Stop()
	}()

	log.Printf("[DASHBOARD] serving on http://%s", ln.Addr())

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the dashboard server.
func (d *Dashboard) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	srv := d.server
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// handleHome renders the overview page.
func (d *Dashboard) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	d.renderPage(w, "home", d.getStatusData())
}

// handleImages renders the image list.
func (d *Dashboard) handleImages(w http.ResponseWriter, r *http.Request) {
	images, err := d.listImages()
	data := map[string]interface{}{
		"Images": images,
	}
	if err != nil {
		data["Error"] = err.Error()
	}
	d.renderPage(w, "images", data)
}

// handleImageDetail renders one image, looked up by ID or name.
func (d *Dashboard) handleImageDetail(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimPrefix(r.URL.Path, "/images/")
	if ref == "" {
		http.Redirect(w, r, "/images", http.StatusFound)
		return
	}

	id, program, err := d.lookupImage(ref)
	if err != nil {
		data := map[string]interface{}{"Ref": ref, "Error": err.Error()}
		d.renderPageStatus(w, statusOf(err), "image", data)
		return
	}

	data := map[string]interface{}{
		"Ref":   ref,
		"ID":    id.String(),
		"Words": len(program),
	}
	if meta, err := d.runner.Images().Meta(id); err == nil {
		data["Meta"] = meta
	}
	shown := program
	if len(shown) > d.config.MaxProgramWords {
		shown = shown[:d.config.MaxProgramWords]
		data["Truncated"] = true
	}
	data["Program"] = shown.String()

	d.renderPage(w, "image", data)
}

// handleStatic serves embedded static assets.
func (d *Dashboard) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/static/")

	content, contentType, ok := getStaticAsset(name)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write([]byte(content))
}

// getStatusData returns the current node status data.
func (d *Dashboard) getStatusData() map[string]interface{} {
	data := make(map[string]interface{})

	isRunning := true
	uptime := d.uptime()
	var lastErr error
	if d.nodeStats != nil {
		isRunning = d.nodeStats.IsRunning()
		lastErr = d.nodeStats.LastError()
	}

	var stats runner.Stats
	if d.runner != nil {
		stats = d.runner.Stats()
	}

	data["IsRunning"] = isRunning
	data["Uptime"] = uptime
	data["Runs"] = stats.Runs
	data["CacheHits"] = stats.CacheHits
	data["Faults"] = stats.Faults
	data["Searches"] = stats.Searches
	data["StepsTotal"] = stats.StepsTotal
	data["CachedCount"] = stats.CachedCount

	if stats.Runs > 0 {
		data["HitRate"] = float64(stats.CacheHits) / float64(stats.Runs) * 100
	} else {
		data["HitRate"] = float64(0)
	}
	if uptime.Seconds() > 0 {
		data["RunsPerSec"] = float64(stats.Runs) / uptime.Seconds()
	}

	if store := d.imageStore(); store != nil {
		if s, err := store.Stats(); err == nil {
			data["ImageCount"] = s.ImageCount
			data["NameCount"] = s.NameCount
			data["DatabaseSize"] = s.DatabaseSize
		}
	}

	if lastErr != nil {
		data["LastError"] = lastErr.Error()
	}
	if isRunning {
		data["NodeStatus"] = "Running"
	} else {
		data["NodeStatus"] = "Stopped"
	}

	return data
}

func (d *Dashboard) uptime() time.Duration {
	if d.nodeStats != nil {
		return d.nodeStats.Uptime()
	}
	return time.Since(d.startTime)
}

func (d *Dashboard) imageStore() imagestore.Store {
	if d.runner == nil {
		return nil
	}
	return d.runner.Images()
}

func (d *Dashboard) listImages() ([]imagestore.ImageMeta, error) {
	store := d.imageStore()
	if store == nil {
		return nil, runner.ErrNoImageStore
	}
	return store.List()
}

func (d *Dashboard) lookupImage(ref string) (types.ImageID, intcode.Program, error) {
	if d.runner == nil {
		return types.ImageID{}, nil, runner.ErrNoImageStore
	}
	return d.runner.Resolve("", ref)
}

// renderPage renders a page template inside the layout.
func (d *Dashboard) renderPage(w http.ResponseWriter, name string, data interface{}) {
	d.renderPageStatus(w, http.StatusOK, name, data)
}

func (d *Dashboard) renderPageStatus(w http.ResponseWriter, code int, name string, data interface{}) {
	var contentBuf strings.Builder
	if err := d.templates.ExecuteTemplate(&contentBuf, name, data); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
		return
	}

	pageData := map[string]interface{}{
		"PageName": name,
		"Content":  template.HTML(contentBuf.String()),
	}
	var page strings.Builder
	if err := d.templates.ExecuteTemplate(&page, "layout", pageData); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	io.WriteString(w, page.String())
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Template helper functions

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

func formatNumber(n interface{}) string {
	switch v := n.(type) {
	case int:
		return formatInt(int64(v))
	case int64:
		return formatInt(v)
	case uint64:
		return formatInt(int64(v))
	case float64:
		return fmt.Sprintf("%.2f", v)
	default:
		return fmt.Sprintf("%v", n)
	}
}

func formatInt(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	if n < 1000000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	return fmt.Sprintf("%.1fB", float64(n)/1000000000)
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// getMemStats returns current memory statistics.
func getMemStats() runtime.MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m
}
