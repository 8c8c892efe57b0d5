package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/ports"
)

const (
	TopicGrantIssued  = "fhebridge.grant.issued"
	TopicGrantExpired = "fhebridge.grant.expired"
)

// GrantEvent describes a grant without its key material
type GrantEvent struct {
	UserAddress       common.Address   `json:"user_address"`
	ContractAddresses []common.Address `json:"contract_addresses"`
	PublicKey         string           `json:"public_key"`
	StartTimestamp    int64            `json:"start_timestamp"`
	DurationDays      int64            `json:"duration_days"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishGrantIssued publishes a freshly signed grant
func (p *WatermillPublisher) PublishGrantIssued(ctx context.Context, grant *core.DecryptionGrant) error {
	return p.publish(ctx, TopicGrantIssued, grant)
}

// PublishGrantExpired publishes a grant that was found expired and discarded
func (p *WatermillPublisher) PublishGrantExpired(ctx context.Context, grant *core.DecryptionGrant) error {
	return p.publish(ctx, TopicGrantExpired, grant)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, grant *core.DecryptionGrant) error {
	event := GrantEvent{
		UserAddress:       grant.UserAddress,
		ContractAddresses: grant.ContractAddresses,
		PublicKey:         grant.PublicKey,
		StartTimestamp:    grant.StartTimestamp,
		DurationDays:      grant.DurationDays,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
