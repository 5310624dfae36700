package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/gymflow/internal/agent"
	"github.com/ChuLiYu/gymflow/internal/handshake"
)

var log = slog.Default()

// DefaultShutdownGrace is how long the server keeps running after the final
// result has been delivered, so the peer can read it and disconnect.
const DefaultShutdownGrace = time.Second

// DefaultCollectTimeout is how long a host waits for the peer to read the
// final result before reclaiming the bridge.
const DefaultCollectTimeout = 5 * time.Second

// Server exposes a peer-side environment (normally the handshake agent) to a
// remote process. It serves exactly one episode.
type Server struct {
	env   agent.Environment
	grace time.Duration

	mu      sync.Mutex
	episode string

	finished   chan struct{}
	finishOnce sync.Once
}

// NewServer creates a bridge server over env. A non-positive grace means
// DefaultShutdownGrace.
func NewServer(env agent.Environment, grace time.Duration) *Server {
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	return &Server{
		env:      env,
		grace:    grace,
		finished: make(chan struct{}),
	}
}

// Reset starts the episode and returns the first observation.
func (s *Server) Reset(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in resetRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.episode != "" {
		return nil, status.Errorf(codes.FailedPrecondition, "episode %s already started", s.episode)
	}

	result, err := s.env.Reset(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	s.episode = uuid.NewString()
	log.Info("Episode started", "episode", s.episode)

	return s.respond(result)
}

// Step submits an action and returns the next observation.
func (s *Server) Step(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in stepRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.episode == "" {
		return nil, status.Error(codes.FailedPrecondition, "step before reset")
	}
	if in.EpisodeID != s.episode {
		return nil, status.Errorf(codes.FailedPrecondition, "unknown episode %q", in.EpisodeID)
	}
	select {
	case <-s.finished:
		return nil, status.Error(codes.FailedPrecondition, "episode already finished")
	default:
	}

	result, err := s.env.Step(ctx, in.Action)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.respond(result)
}

// respond encodes result and signals shutdown once the episode is over.
// Callers hold s.mu.
func (s *Server) respond(result StaticResult) (*structpb.Struct, error) {
	out, err := toStruct(resultResponse{EpisodeID: s.episode, Result: result})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if result.Done() {
		log.Info("Final result delivered", "episode", s.episode, "reward", result.Reward)
		s.finishOnce.Do(func() { close(s.finished) })
	}
	return out, nil
}

// Finished is closed once the final result has been delivered to the peer.
func (s *Server) Finished() <-chan struct{} {
	return s.finished
}

// Serve runs a gRPC server on lis. It returns after the final result was
// delivered and the grace period elapsed (graceful stop), or when ctx is
// cancelled (immediate stop).
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer()
	RegisterAgentBridgeServer(gs, s)

	quit := make(chan struct{})
	go func() {
		select {
		case <-s.finished:
			timer := time.NewTimer(s.grace)
			defer timer.Stop()
			select {
			case <-timer.C:
				log.Info("Bridge shutting down", "grace", s.grace)
				gs.GracefulStop()
			case <-ctx.Done():
				gs.Stop()
			case <-quit:
			}
		case <-ctx.Done():
			log.Info("Bridge stopped", "reason", ctx.Err())
			gs.Stop()
		case <-quit:
		}
	}()

	log.Info("Bridge listening", "addr", lis.Addr().String())
	err := gs.Serve(lis)
	close(quit)
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("bridge serve: %w", err)
	}
	return nil
}

// toStatus maps handshake failures to gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, handshake.ErrInterrupted):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
