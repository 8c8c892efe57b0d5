package service

import (
	"context"
	"fmt"

	"github.com/layer-3/fhebridge/adapters/mock"
	"github.com/layer-3/fhebridge/adapters/relayer"
	"github.com/layer-3/fhebridge/adapters/sdk"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/ports"
	"go.uber.org/zap"
)

// SandboxBackend builds a capability for a confirmed development chain
type SandboxBackend func(ctx context.Context, cls *core.ChainClassification, meta core.RelayerMetadata) (ports.Capability, error)

// ProductionBackend builds a relayer backed capability
type ProductionBackend func(ctx context.Context, cls *core.ChainClassification, conn ports.Connection) (ports.Capability, error)

// BackendFactory picks the FHE backend for a classified chain
type BackendFactory struct {
	sandbox    SandboxBackend
	production ProductionBackend
	logger     *zap.Logger
}

// NewBackendFactory creates a factory from explicit backends
func NewBackendFactory(sandbox SandboxBackend, production ProductionBackend, logger *zap.Logger) *BackendFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackendFactory{sandbox: sandbox, production: production, logger: logger}
}

// MockBackend serves sandbox chains from f
func MockBackend(f *mock.Factory) SandboxBackend {
	return func(ctx context.Context, cls *core.ChainClassification, meta core.RelayerMetadata) (ports.Capability, error) {
		inst, err := f.New(ctx, cls.RPCURL, cls.ChainID, meta)
		if err != nil {
			return nil, err
		}
		return inst, nil
	}
}

// RelayerBackend serves production chains through the provisioned SDK.
// networks maps host chain ids to their deployment.
func RelayerBackend(p *sdk.Provisioner, networks map[uint64]relayer.NetworkConfig) ProductionBackend {
	return func(ctx context.Context, cls *core.ChainClassification, conn ports.Connection) (ports.Capability, error) {
		s, err := p.Provision(ctx)
		if err != nil {
			return nil, err
		}
		cfg, ok := networks[cls.ChainID]
		if !ok {
			return nil, fmt.Errorf("%w: no FHE deployment for chain %d", core.ErrChainUnavailable, cls.ChainID)
		}
		capability, err := s.CreateInstance(ctx, cfg, conn)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrSDKInitFailed, err)
		}
		return capability, nil
	}
}

// Create builds the capability matching cls
func (f *BackendFactory) Create(ctx context.Context, cls *core.ChainClassification, conn ports.Connection) (ports.Capability, error) {
	switch mode := cls.Mode.(type) {
	case core.Sandbox:
		capability, err := f.sandbox(ctx, cls, mode.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrChainUnavailable, err)
		}
		f.logger.Info("Mock FHE backend ready", zap.Uint64("chain_id", cls.ChainID))
		return capability, nil
	case core.Production:
		if f.production == nil {
			return nil, fmt.Errorf("%w: production backend disabled", core.ErrSDKLoadFailed)
		}
		capability, err := f.production(ctx, cls, conn)
		if err != nil {
			return nil, err
		}
		f.logger.Info("Relayer FHE backend ready", zap.Uint64("chain_id", cls.ChainID))
		return capability, nil
	default:
		return nil, fmt.Errorf("unknown chain mode %T", cls.Mode)
	}
}
