package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pgembed/pgembed/internal/cluster"
	"github.com/pgembed/pgembed/internal/controller"
	"github.com/pgembed/pgembed/internal/environment"
	"github.com/pgembed/pgembed/internal/errdefs"
	"github.com/pgembed/pgembed/internal/parallel"
)

// Event reports the outcome of one per-cluster operation inside a
// fan-out. Err is nil on success.
type Event struct {
	ClusterID string
	Operation string
	Err       error
}

// EventFunc observes fan-out events. The context is the fan-out's
// cancellation handle.
type EventFunc func(ctx context.Context, event Event)

// FanOptions select the clusters an operation applies to and how wide
// the fan-out runs. An empty ID set selects every cluster.
type FanOptions struct {
	IDs     []string
	MaxDOP  int
	OnEvent EventFunc
}

// Server is the multi-cluster façade over one environment. The
// cluster map is guarded by a mutex; per-cluster operations run
// outside it.
type Server struct {
	env    *environment.Environment
	logger *slog.Logger

	mu       sync.Mutex
	clusters map[string]*Cluster
	order    []string
}

func New(env *environment.Environment, configs []cluster.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		env:      env,
		logger:   logger,
		clusters: map[string]*Cluster{},
	}
	for _, cfg := range configs {
		if err := s.AddCluster(cfg); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Server) Environment() *environment.Environment {
	return s.env
}

// AddCluster registers a cluster. IDs must be unique.
func (s *Server) AddCluster(cfg cluster.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	normalized := cfg.Normalized()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clusters[normalized.UniqueID]; exists {
		return errdefs.ValidationError{Code: "cluster_id_duplicate", Message: "cluster id already registered", Details: normalized.UniqueID}
	}
	s.clusters[normalized.UniqueID] = newCluster(normalized, s.env, s.logger)
	s.order = append(s.order, normalized.UniqueID)
	return nil
}

// Cluster looks one cluster up by id.
func (s *Server) Cluster(id string) (*Cluster, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[id]
	return c, ok
}

// Clusters snapshots the registered clusters in registration order.
func (s *Server) Clusters() []*Cluster {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Cluster, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.clusters[id])
	}
	return out
}

// selectClusters snapshots the requested subset under the mutex. An
// empty id list selects all clusters.
func (s *Server) selectClusters(ids []string) ([]*Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) == 0 {
		out := make([]*Cluster, 0, len(s.order))
		for _, id := range s.order {
			out = append(out, s.clusters[id])
		}
		return out, nil
	}
	out := make([]*Cluster, 0, len(ids))
	for _, id := range ids {
		c, ok := s.clusters[id]
		if !ok {
			return nil, errdefs.ValidationError{Code: "cluster_unknown", Message: "unknown cluster id", Details: id}
		}
		out = append(out, c)
	}
	return out, nil
}

// fanOut runs fn once per selected cluster with bounded parallelism.
// Failures are captured into events and delivered to the callback;
// siblings keep running. The first failure is also returned once every
// task has finished.
func (s *Server) fanOut(ctx context.Context, operation string, opts FanOptions, fn func(ctx context.Context, c *Cluster) error) error {
	selected, err := s.selectClusters(opts.IDs)
	if err != nil {
		return err
	}
	maxDOP := opts.MaxDOP
	if maxDOP < 1 {
		maxDOP = 1
	}
	return parallel.ForEach(ctx, selected, maxDOP, func(ctx context.Context, c *Cluster) error {
		opErr := fn(ctx, c)
		if opErr != nil {
			s.logger.Error("cluster operation failed", "operation", operation, "cluster", c.ID(), "err", opErr)
		}
		if opts.OnEvent != nil {
			opts.OnEvent(ctx, Event{ClusterID: c.ID(), Operation: operation, Err: opErr})
		}
		return opErr
	})
}

// Initialize runs the strategy against the selected clusters.
func (s *Server) Initialize(ctx context.Context, init Initializer, opts FanOptions) error {
	return s.fanOut(ctx, "initialize", opts, func(ctx context.Context, c *Cluster) error {
		return c.Initialize(ctx, init)
	})
}

// Start brings the selected clusters up. Uninitialized clusters run
// the supplied initializer first.
func (s *Server) Start(ctx context.Context, start StartOptions, init Initializer, opts FanOptions) error {
	return s.fanOut(ctx, "start", opts, func(ctx context.Context, c *Cluster) error {
		return c.Start(ctx, start, init)
	})
}

// Stop shuts the selected clusters down.
func (s *Server) Stop(ctx context.Context, shutdown controller.Shutdown, opts FanOptions) error {
	return s.fanOut(ctx, "stop", opts, func(ctx context.Context, c *Cluster) error {
		return c.Stop(ctx, shutdown)
	})
}

// ReloadConfiguration reloads the selected clusters' configuration.
func (s *Server) ReloadConfiguration(ctx context.Context, opts FanOptions) error {
	return s.fanOut(ctx, "reload", opts, func(ctx context.Context, c *Cluster) error {
		return c.ReloadConfiguration(ctx)
	})
}
