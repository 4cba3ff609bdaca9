package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sort"
	"strconv"
	"time"

	"icecold/config"
	"icecold/metrics"
	"icecold/models"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StatusProvider exposes the live state of the poller
type StatusProvider interface {
	Specs() []models.SensorSpec
	States() map[string]models.SensorState
	SourceHealth() []models.SourceHealth
}

// ReadingStore serves archived readings by day
type ReadingStore interface {
	ListDays() ([]string, error)
	LoadDay(day string) ([]models.Measurement, error)
}

// SensorStatus is one entry of the /status response
type SensorStatus struct {
	Spec  models.SensorSpec  `json:"spec"`
	State models.SensorState `json:"state"`
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Sensors []SensorStatus        `json:"sensors"`
	Sources []models.SourceHealth `json:"sources"`
}

// Server serves the configuration editor, status and metrics endpoints.
// Edits are written to the config file and take effect on the next restart.
type Server struct {
	configFile string
	status     StatusProvider
	readings   ReadingStore
	logger     *zap.Logger
	httpServer *http.Server
}

// New creates a server. readings may be nil when no CSV log is configured.
func New(addr, configFile string, status StatusProvider, readings ReadingStore, logger *zap.Logger) *Server {
	s := &Server{
		configFile: configFile,
		status:     status,
		readings:   readings,
		logger:     logger,
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler wrapped with access logging and panic recovery
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(countRequests)

	r.HandleFunc("/", s.showConfig).Methods(http.MethodGet)
	r.HandleFunc("/update", s.updateConfig).Methods(http.MethodPost)
	r.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/readings", s.listDays).Methods(http.MethodGet)
	r.HandleFunc("/readings/{day}", s.getDay).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	logged := handlers.CombinedLoggingHandler(zap.NewStdLog(s.logger).Writer(), r)
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(logged)
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// countRequests records every request against its route template
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readSettings returns the config file contents; a missing file is empty
func (s *Server) readSettings() (map[string]string, error) {
	values, err := godotenv.Read(s.configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return values, nil
}

type setting struct {
	Key   string
	Value string
}

type configPage struct {
	File     string
	Settings []setting
	Error    string
}

var configTemplate = template.Must(template.New("config").Parse(`<!DOCTYPE html>
<html>
<head><title>icecold settings</title></head>
<body>
<h1>Settings</h1>
<p>{{.File}}</p>
{{if .Error}}<pre style="color:#b00">{{.Error}}</pre>{{end}}
<form method="POST" action="/update">
<table>
{{range .Settings}}<tr><td><label for="{{.Key}}">{{.Key}}</label></td><td><input type="text" id="{{.Key}}" name="{{.Key}}" value="{{.Value}}" size="60"></td></tr>
{{end}}<tr><td><input type="text" name="new_key" placeholder="NEW_KEY"></td><td><input type="text" name="new_value" size="60"></td></tr>
</table>
<p>Changes take effect after a restart.</p>
<input type="submit" value="Save">
</form>
</body>
</html>
`))

func (s *Server) renderConfig(w http.ResponseWriter, status int, values map[string]string, errMsg string) {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	page := configPage{File: s.configFile, Error: errMsg}
	for _, key := range keys {
		page.Settings = append(page.Settings, setting{Key: key, Value: values[key]})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := configTemplate.Execute(w, page); err != nil {
		s.logger.Error("Failed to render config page", zap.Error(err))
	}
}

func (s *Server) showConfig(w http.ResponseWriter, _ *http.Request) {
	values, err := s.readSettings()
	if err != nil {
		s.logger.Error("Failed to read config file", zap.String("file", s.configFile), zap.Error(err))
		http.Error(w, "failed to read config file", http.StatusInternalServerError)
		return
	}
	s.renderConfig(w, http.StatusOK, values, "")
}

// updateConfig merges the submitted keys into the config file. The result is
// validated first so a bad edit cannot stop the service from starting again.
func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	values, err := s.readSettings()
	if err != nil {
		s.logger.Error("Failed to read config file", zap.String("file", s.configFile), zap.Error(err))
		http.Error(w, "failed to read config file", http.StatusInternalServerError)
		return
	}

	for key, submitted := range r.PostForm {
		if key == "new_key" || key == "new_value" || len(submitted) == 0 {
			continue
		}
		values[key] = submitted[0]
	}
	if key := r.PostForm.Get("new_key"); key != "" {
		values[key] = r.PostForm.Get("new_value")
	}

	if _, err := config.Parse(config.WithEnvironment(values)); err != nil {
		s.logger.Warn("Rejected config update", zap.Error(err))
		s.renderConfig(w, http.StatusBadRequest, values, err.Error())
		return
	}

	if err := godotenv.Write(values, s.configFile); err != nil {
		s.logger.Error("Failed to write config file", zap.String("file", s.configFile), zap.Error(err))
		http.Error(w, "failed to write config file", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Config file updated", zap.String("file", s.configFile), zap.Int("keys", len(values)))
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	states := s.status.States()
	resp := StatusResponse{
		Sensors: []SensorStatus{},
		Sources: s.status.SourceHealth(),
	}
	for _, spec := range s.status.Specs() {
		resp.Sensors = append(resp.Sensors, SensorStatus{Spec: spec, State: states[spec.Name]})
	}
	if resp.Sources == nil {
		resp.Sources = []models.SourceHealth{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listDays(w http.ResponseWriter, _ *http.Request) {
	if s.readings == nil {
		http.Error(w, "reading log is not enabled", http.StatusNotFound)
		return
	}
	days, err := s.readings.ListDays()
	if err != nil {
		s.logger.Error("Failed to list reading days", zap.Error(err))
		http.Error(w, "failed to list readings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, days)
}

func (s *Server) getDay(w http.ResponseWriter, r *http.Request) {
	if s.readings == nil {
		http.Error(w, "reading log is not enabled", http.StatusNotFound)
		return
	}

	day := mux.Vars(r)["day"]
	measurements, err := s.readings.LoadDay(day)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		http.Error(w, "no readings for "+day, http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, measurements)
}
