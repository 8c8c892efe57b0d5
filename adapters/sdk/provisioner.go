// Package sdk loads the production FHE SDK at most once per process and hands
// out relayer backed capabilities built on it.
package sdk

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/layer-3/fhebridge/adapters/relayer"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/ports"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Initializer turns module bytes into a ready engine
type Initializer func(ctx context.Context, code []byte) (ports.Engine, error)

// SDK is a loaded and initialized SDK
type SDK struct {
	engine     ports.Engine
	httpClient *http.Client
	logger     *zap.Logger
}

// CreateInstance binds the SDK to a production network
func (s *SDK) CreateInstance(ctx context.Context, cfg relayer.NetworkConfig, conn ports.Connection) (ports.Capability, error) {
	return relayer.New(ctx, cfg, conn, s.engine, s.httpClient, s.logger)
}

// Engine returns the SDK's cryptographic core
func (s *SDK) Engine() ports.Engine {
	return s.engine
}

// Provisioner loads and initializes the SDK once. Concurrent callers share a
// single load; failures are not cached so a later call retries.
type Provisioner struct {
	source     Source
	init       Initializer
	httpClient *http.Client
	logger     *zap.Logger

	group singleflight.Group
	mu    sync.Mutex
	sdk   *SDK
}

// Option configures a Provisioner
type Option func(*Provisioner)

// WithInitializer replaces the wasm engine initializer
func WithInitializer(init Initializer) Option {
	return func(p *Provisioner) { p.init = init }
}

// WithHTTPClient sets the client used for relayer calls
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provisioner) { p.httpClient = c }
}

// NewProvisioner creates a provisioner for source
func NewProvisioner(source Source, logger *zap.Logger, opts ...Option) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provisioner{
		source:     source,
		init:       NewWasmEngine,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision returns the SDK, loading and initializing it on first use
func (p *Provisioner) Provision(ctx context.Context) (*SDK, error) {
	if s := p.loaded(); s != nil {
		return s, nil
	}

	v, err, _ := p.group.Do("sdk", func() (interface{}, error) {
		if s := p.loaded(); s != nil {
			return s, nil
		}

		loc := p.source.Location()
		p.logger.Info("Loading FHE SDK", zap.String("source", loc))

		code, err := p.source.Fetch(ctx)
		if err != nil {
			p.logger.Error("Failed to load FHE SDK", zap.String("source", loc), zap.Error(err))
			return nil, fmt.Errorf("%w: %s: %w", core.ErrSDKLoadFailed, loc, err)
		}

		engine, err := p.init(ctx, code)
		if err != nil {
			p.logger.Error("Failed to initialize FHE SDK", zap.String("source", loc), zap.Error(err))
			return nil, fmt.Errorf("%w: %w", core.ErrSDKInitFailed, err)
		}

		s := &SDK{engine: engine, httpClient: p.httpClient, logger: p.logger}
		p.mu.Lock()
		p.sdk = s
		p.mu.Unlock()

		p.logger.Info("FHE SDK ready", zap.String("source", loc), zap.Int("module_bytes", len(code)))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SDK), nil
}

// Close releases the engine if it holds runtime resources
func (p *Provisioner) Close(ctx context.Context) error {
	p.mu.Lock()
	s := p.sdk
	p.sdk = nil
	p.mu.Unlock()

	if s == nil {
		return nil
	}
	if c, ok := s.engine.(interface{ Close(context.Context) error }); ok {
		return c.Close(ctx)
	}
	return nil
}

func (p *Provisioner) loaded() *SDK {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sdk
}
