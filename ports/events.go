package ports

import (
	"context"

	"github.com/layer-3/fhebridge/core"
)

// EventPublisher publishes grant lifecycle events to other instances
type EventPublisher interface {
	PublishGrantIssued(ctx context.Context, grant *core.DecryptionGrant) error
	PublishGrantExpired(ctx context.Context, grant *core.DecryptionGrant) error
}
