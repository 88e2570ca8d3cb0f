// Package health checks whether a named cluster is reachable over the network.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/namedfs/namedfs/internal/config"
	"github.com/namedfs/namedfs/pkg/types"
	"github.com/namedfs/namedfs/pkg/utils"
)

// Severity grades a check result.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityError Severity = "ERROR"
)

// Result is the outcome of checking one cluster.
type Result struct {
	Cluster   string        `json:"cluster"`
	Address   string        `json:"address"`
	Severity  Severity      `json:"severity"`
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// OK reports whether the result does not indicate a failure.
func (r Result) OK() bool {
	return r.Severity != SeverityError
}

// DialFunc opens a network connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Checker checks TCP reachability of cluster endpoints.
type Checker struct {
	timeout     time.Duration
	concurrency int
	dial        DialFunc
	logger      *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithDialer replaces the network dialer.
func WithDialer(dial DialFunc) Option {
	return func(p *Checker) { p.dial = dial }
}

// WithLogger sets the checker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Checker) { p.logger = logger }
}

// WithConcurrency bounds how many clusters CheckAll dials at once.
func WithConcurrency(n int) Option {
	return func(p *Checker) { p.concurrency = n }
}

// NewChecker creates a checker from the health check settings.
func NewChecker(cfg config.HealthChecksConfig, opts ...Option) *Checker {
	p := &Checker{
		timeout:     cfg.Timeout,
		concurrency: 8,
		logger:      utils.DiscardLogger(),
	}
	if p.timeout <= 0 {
		p.timeout = 5 * time.Second
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.dial == nil {
		d := &net.Dialer{}
		p.dial = d.DialContext
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	p.logger = p.logger.With("component", "health")
	return p
}

// Check dials one cluster. Native-client clusters do not expose a reachable
// endpoint and pass with an INFO result.
func (p *Checker) Check(ctx context.Context, cluster types.NamedCluster) Result {
	start := time.Now()
	res := Result{Cluster: clusterLabel(cluster), Timestamp: start}

	if cluster.IsNativeClient() {
		res.Severity = SeverityInfo
		res.Message = "native client cluster; connectivity test not applicable"
		return res
	}

	// Host and port may carry ${VAR} references when a record is shared
	// between environments.
	host := os.ExpandEnv(cluster.Host)
	port := cluster.Port
	if raw := cluster.Property("port", ""); raw != "" {
		if n, err := strconv.Atoi(os.ExpandEnv(raw)); err == nil {
			port = n
		}
	}
	if host == "" || port <= 0 || port > 65535 {
		res.Severity = SeverityError
		res.Message = "cluster has no usable host or port"
		return res
	}
	res.Address = net.JoinHostPort(host, strconv.Itoa(port))

	dctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(dctx, "tcp", res.Address)
	res.Duration = time.Since(start)
	if err != nil {
		res.Severity = SeverityError
		res.Message = fmt.Sprintf("unable to connect to %s", res.Address)
		res.Error = err.Error()
		p.logger.Warn("Cluster unreachable", "cluster", res.Cluster, "address", res.Address, "error", err)
		return res
	}
	_ = conn.Close()

	res.Severity = SeverityInfo
	res.Message = fmt.Sprintf("connected to %s", res.Address)
	p.logger.Debug("Cluster reachable", "cluster", res.Cluster, "address", res.Address, "duration", res.Duration)
	return res
}

// CheckAll checks every cluster concurrently. Results keep the input order.
func (p *Checker) CheckAll(ctx context.Context, clusters []types.NamedCluster) []Result {
	results := make([]Result, len(clusters))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, nc := range clusters {
		g.Go(func() error {
			results[i] = p.Check(gctx, nc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func clusterLabel(c types.NamedCluster) string {
	if c.Name != "" {
		return c.Name
	}
	return c.Address()
}
