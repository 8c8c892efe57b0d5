package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/layer-3/fhebridge/adapters/rpc"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/ports"
	"go.uber.org/zap"
)

// DefaultDevNodeMarkers are the client version substrings of supported development nodes
var DefaultDevNodeMarkers = []string{"hardhat"}

// MetadataProbe recognizes development nodes and reads their FHE metadata
type MetadataProbe struct {
	markers []string
	logger  *zap.Logger
}

// NewMetadataProbe creates a probe matching markers case-insensitively
func NewMetadataProbe(markers []string, logger *zap.Logger) *MetadataProbe {
	if len(markers) == 0 {
		markers = DefaultDevNodeMarkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	lower := make([]string, len(markers))
	for i, m := range markers {
		lower[i] = strings.ToLower(m)
	}
	return &MetadataProbe{markers: lower, logger: logger}
}

// IsDevelopmentNode reports whether web3_clientVersion names a development node
func (p *MetadataProbe) IsDevelopmentNode(ctx context.Context, conn ports.Connection) (bool, error) {
	version, err := rpc.ClientVersion(ctx, conn)
	if err != nil {
		return false, err
	}
	v := strings.ToLower(version)
	for _, m := range p.markers {
		if strings.Contains(v, m) {
			p.logger.Debug("Development node detected", zap.String("client_version", version))
			return true, nil
		}
	}
	return false, nil
}

// Fetch reads fhevm_relayer_metadata. Metadata with a missing address is an error.
func (p *MetadataProbe) Fetch(ctx context.Context, conn ports.Connection) (core.RelayerMetadata, error) {
	var meta core.RelayerMetadata
	if err := conn.Call(ctx, &meta, "fhevm_relayer_metadata"); err != nil {
		return core.RelayerMetadata{}, fmt.Errorf("fhevm_relayer_metadata: %w", err)
	}
	if !meta.Complete() {
		return core.RelayerMetadata{}, fmt.Errorf("fhevm_relayer_metadata: incomplete metadata")
	}
	return meta, nil
}
