package service

import (
	"context"
	"fmt"

	"github.com/layer-3/fhebridge/adapters/rpc"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/ports"
	"go.uber.org/zap"
)

// DefaultSandboxChains maps development chain ids to their direct RPC endpoints
func DefaultSandboxChains() map[uint64]string {
	return map[uint64]string{31337: "http://localhost:8545"}
}

// ChainResolver classifies a connection as sandbox or production
type ChainResolver struct {
	sandbox map[uint64]string
	probe   *MetadataProbe
	dial    ports.Dialer
	logger  *zap.Logger
}

// NewChainResolver creates a resolver. dial is used to reach a sandbox chain's
// direct endpoint; when nil, or when the chain has no endpoint, the connection
// itself is probed.
func NewChainResolver(sandbox map[uint64]string, probe *MetadataProbe, dial ports.Dialer, logger *zap.Logger) *ChainResolver {
	if sandbox == nil {
		sandbox = DefaultSandboxChains()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainResolver{sandbox: sandbox, probe: probe, dial: dial, logger: logger}
}

// Classify derives the chain's identity. A sandbox chain id is only trusted
// once the node identifies as a development node.
func (r *ChainResolver) Classify(ctx context.Context, conn ports.Connection) (*core.ChainClassification, error) {
	chainID, err := rpc.ChainID(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrChainUnavailable, err)
	}

	rpcURL, candidate := r.sandbox[chainID]
	if !candidate {
		r.logger.Debug("Chain classified", zap.Uint64("chain_id", chainID), zap.String("mode", "production"))
		return &core.ChainClassification{ChainID: chainID, Mode: core.Production{}}, nil
	}

	probeConn := conn
	if rpcURL != "" && r.dial != nil {
		direct, err := r.dial(ctx, rpcURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrChainUnavailable, err)
		}
		if c, ok := direct.(interface{ Close() }); ok {
			defer c.Close()
		}
		probeConn = direct
	}

	dev, err := r.probe.IsDevelopmentNode(ctx, probeConn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrChainUnavailable, err)
	}
	if !dev {
		r.logger.Info("Sandbox chain id served by a non development node",
			zap.Uint64("chain_id", chainID),
			zap.String("rpc_url", rpcURL),
		)
		return &core.ChainClassification{ChainID: chainID, Mode: core.Production{}}, nil
	}

	meta, err := r.probe.Fetch(ctx, probeConn)
	if err != nil {
		r.logger.Warn("Development node has no FHE metadata",
			zap.Uint64("chain_id", chainID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", core.ErrChainUnavailable, err)
	}

	r.logger.Debug("Chain classified", zap.Uint64("chain_id", chainID), zap.String("mode", "sandbox"))
	return &core.ChainClassification{
		ChainID: chainID,
		Mode:    core.Sandbox{Metadata: meta},
		RPCURL:  rpcURL,
	}, nil
}
