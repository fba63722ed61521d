package server

import (
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// EnforcementService is the health service name that tracks whether the
// router accepted the last global mode.
const EnforcementService = "gatekeeper.enforcement"

// EnforcementHealth mirrors global mode application results into the gRPC
// health service.
type EnforcementHealth struct {
	hs *health.Server

	mu   sync.Mutex
	mode model.Mode
	err  error
}

// NewEnforcementHealth returns a health tracker. The enforcement service
// reports NOT_SERVING until the first mode has been applied.
func NewEnforcementHealth() *EnforcementHealth {
	hs := health.NewServer()
	hs.SetServingStatus(EnforcementService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &EnforcementHealth{hs: hs}
}

// Observe records the outcome of applying mode m. It matches the engine's
// OnModeApplied hook.
func (h *EnforcementHealth) Observe(m model.Mode, err error) {
	h.mu.Lock()
	h.mode, h.err = m, err
	h.mu.Unlock()

	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.hs.SetServingStatus(EnforcementService, st)
}

// Last returns the most recently applied mode and its error.
func (h *EnforcementHealth) Last() (model.Mode, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode, h.err
}

// Shutdown marks every service NOT_SERVING so watchers see the stop.
func (h *EnforcementHealth) Shutdown() { h.hs.Shutdown() }

// NewGRPCServer creates a gRPC server with standard interceptors,
// registers the health service and reflection, and returns the server
// ready to serve.
func NewGRPCServer(h *EnforcementHealth, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(authToken),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor,
			StreamAuthInterceptor(authToken),
		),
	)

	healthpb.RegisterHealthServer(srv, h.hs)
	reflection.Register(srv)

	return srv
}
