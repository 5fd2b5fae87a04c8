package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"AISRelay/internal/ingestion"
	"AISRelay/internal/observability"
	"AISRelay/internal/state"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported alongside "".
const ServiceName = "aisrelay"

// VesselSource is the read side of the vessel store.
type VesselSource interface {
	Snapshot() []state.VesselRecord
	Get(id int64) (state.VesselRecord, bool)
}

// SessionSource lists stream sessions.
type SessionSource interface {
	Statuses() []ingestion.SessionStatus
}

// Deps holds what the status surface reads from.
type Deps struct {
	Vessels       VesselSource
	Sessions      SessionSource
	HealthChecker *observability.HealthChecker
	Logger        zerolog.Logger
}

// Server is the read-only status surface: a gRPC server carrying health and
// reflection, and an HTTP mux with the JSON endpoints and health checks.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	deps       Deps
	log        zerolog.Logger
}

func New(grpcAddr, httpAddr string, deps Deps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		deps:       deps,
		log:        deps.Logger,
	}
}

// SetSessions sets the session source. Call before serving.
func (s *Server) SetSessions(src SessionSource) {
	s.deps.Sessions = src
}

// RelayStateChanged reports SERVING while at least one session is open and
// shutdown has not begun.
func (s *Server) RelayStateChanged(openSessions int, shuttingDown bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if openSessions > 0 && !shuttingDown {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

// StartGRPC listens on the configured address and serves until ctx is done.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves on lis until ctx is done.
func (s *Server) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Handler returns the HTTP routes of the status surface.
func (s *Server) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		path    string
		handler runtime.HandlerFunc
	}{
		{"/v1/vessels", s.listVessels},
		{"/v1/vessels/{mmsi}", s.getVessel},
		{"/v1/sessions", s.listSessions},
	}
	for _, r := range routes {
		if err := mux.HandlePath(http.MethodGet, r.path, r.handler); err != nil {
			return nil, fmt.Errorf("register %s: %w", r.path, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.deps.HealthChecker != nil {
		httpMux.HandleFunc("/healthz", s.deps.HealthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.deps.HealthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// StartHTTP serves the HTTP routes until ctx is done.
func (s *Server) StartHTTP(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// VesselView is the JSON shape of one vessel.
type VesselView struct {
	MMSI       int64     `json:"mmsi"`
	Name       string    `json:"name"`
	Longitude  float64   `json:"longitude"`
	Latitude   float64   `json:"latitude"`
	Direction  string    `json:"direction"`
	Speed      float64   `json:"speed"`
	Timestamp  string    `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at"`
}

func viewOf(rec state.VesselRecord) VesselView {
	return VesselView{
		MMSI:       rec.VesselID,
		Name:       rec.VesselName,
		Longitude:  rec.Longitude,
		Latitude:   rec.Latitude,
		Direction:  rec.Direction(),
		Speed:      rec.Speed,
		Timestamp:  rec.Timestamp,
		ReceivedAt: rec.ReceivedAt,
	}
}

func (s *Server) listVessels(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	records := s.deps.Vessels.Snapshot()
	views := make([]VesselView, 0, len(records))
	for _, rec := range records {
		views = append(views, viewOf(rec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(views),
		"vessels": views,
	})
}

func (s *Server) getVessel(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := strconv.ParseInt(params["mmsi"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mmsi must be numeric"})
		return
	}
	rec, ok := s.deps.Vessels.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "vessel not found"})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var statuses []ingestion.SessionStatus
	if s.deps.Sessions != nil {
		statuses = s.deps.Sessions.Statuses()
	}
	if statuses == nil {
		statuses = []ingestion.SessionStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": statuses,
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
