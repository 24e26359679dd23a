package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/mfreeman451/healthradar/pkg/db"
	httpx "github.com/mfreeman451/healthradar/pkg/http"
	"github.com/mfreeman451/healthradar/pkg/models"
	"github.com/mfreeman451/healthradar/pkg/registry"
	"github.com/mfreeman451/healthradar/pkg/sink"
	"github.com/mfreeman451/healthradar/pkg/ws"
)

const (
	defaultAnomalyLimit = 100
	maxTelemetryBody    = 64 * 1024
	shutdownTimeout     = 10 * time.Second
)

// Ingester accepts one raw telemetry payload. The HTTP ingest path and
// the pub/sub pipeline share the same implementation.
type Ingester interface {
	Ingest(ctx context.Context, payload []byte) ([]*models.AnomalyRecord, error)
}

type HealthStatus struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	StorageOK   bool   `json:"storage_ok"`
}

type SystemStatus struct {
	TotalDevices    int       `json:"total_devices"`
	ActiveDevices   int       `json:"active_devices"`
	SilentDevices   int       `json:"silent_devices"`
	FloodingDevices int       `json:"flooding_devices"`
	TotalAnomalies  int64     `json:"total_anomalies"`
	StreamClients   int       `json:"stream_clients"`
	LastUpdate      time.Time `json:"last_update"`
}

type APIServer struct {
	registry   *registry.Registry
	store      db.Service
	sink       sink.Service
	ingester   Ingester
	hub        *ws.Hub
	router     *mux.Router
	httpServer *http.Server
	limiter    *rate.Limiter
}

func NewAPIServer(reg *registry.Registry, store db.Service, anomalySink sink.Service,
	ingester Ingester, hub *ws.Hub, ingestRate float64) *APIServer {
	burst := int(ingestRate)
	if burst < 1 {
		burst = 1
	}

	s := &APIServer{
		registry: reg,
		store:    store,
		sink:     anomalySink,
		ingester: ingester,
		hub:      hub,
		router:   mux.NewRouter(),
		limiter:  rate.NewLimiter(rate.Limit(ingestRate), burst),
	}
	s.setupRoutes()

	return s
}

func (s *APIServer) setupRoutes() {
	s.router.Use(httpx.CommonMiddleware)

	// OPTIONS is routed too so the middleware can answer CORS preflights.
	s.router.HandleFunc("/health", s.getHealth).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/devices", s.getDevices).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/devices/{id}", s.getDevice).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/anomalies", s.getAnomalies).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/status", s.getSystemStatus).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/stream", s.streamAnomalies).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.router.Handle("/api/telemetry",
		httpx.RateLimit(http.HandlerFunc(s.postTelemetry), s.limiter)).Methods("POST", "OPTIONS")
}

func (s *APIServer) getHealth(w http.ResponseWriter, _ *http.Request) {
	// Model load failures are fatal at startup, so a running server
	// always has a model.
	status := HealthStatus{
		Status:      "ok",
		ModelLoaded: true,
		StorageOK:   s.sink.Healthy(),
	}
	if !status.StorageOK {
		status.Status = "degraded"
	}

	s.writeJSON(w, status)
}

func (s *APIServer) getDevices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.registry.SnapshotAll())
}

func (s *APIServer) getDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	device, ok := s.registry.Get(deviceID)
	if !ok {
		http.Error(w, "Device not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, device)
}

func (s *APIServer) getAnomalies(w http.ResponseWriter, r *http.Request) {
	filter, err := anomalyFilterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := s.store.ListAnomalies(filter)
	if err != nil {
		log.Printf("Error listing anomalies: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	s.writeJSON(w, records)
}

func anomalyFilterFromQuery(r *http.Request) (*db.AnomalyFilter, error) {
	q := r.URL.Query()

	filter := &db.AnomalyFilter{
		DeviceID: q.Get("device_id"),
		Kind:     models.AnomalyKind(q.Get("kind")),
		Limit:    defaultAnomalyLimit,
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, errors.New("invalid limit")
		}

		filter.Limit = limit
	}

	for param, dst := range map[string]*time.Time{"start": &filter.Start, "end": &filter.End} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}

		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, errors.New("invalid " + param + " timestamp")
		}

		*dst = ts
	}

	return filter, nil
}

func (s *APIServer) getSystemStatus(w http.ResponseWriter, _ *http.Request) {
	counts := s.registry.CountByStatus()

	total, err := s.store.CountAnomalies()
	if err != nil {
		log.Printf("Error counting anomalies: %v", err)
	}

	status := SystemStatus{
		TotalDevices: counts[models.StatusActive] + counts[models.StatusSilent] +
			counts[models.StatusFlooding] + counts[models.StatusUnknown],
		ActiveDevices:   counts[models.StatusActive],
		SilentDevices:   counts[models.StatusSilent],
		FloodingDevices: counts[models.StatusFlooding],
		TotalAnomalies:  total,
		StreamClients:   s.hub.ClientCount(),
		LastUpdate:      time.Now(),
	}

	s.writeJSON(w, status)
}

func (s *APIServer) postTelemetry(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxTelemetryBody))
	if err != nil {
		http.Error(w, "Error reading body", http.StatusBadRequest)
		return
	}

	records, err := s.ingester.Ingest(r.Context(), payload)
	if err != nil {
		log.Printf("Error storing telemetry anomalies: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)

	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"accepted":  true,
		"anomalies": len(records),
	}); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func (s *APIServer) streamAnomalies(w http.ResponseWriter, r *http.Request) {
	ws.ServeWS(s.hub, w, r)
}

func (*APIServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func (s *APIServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket stream stays open
	}

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}
