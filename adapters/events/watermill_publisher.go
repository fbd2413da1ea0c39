package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/soteria-auth/soteria/ports"
)

// LoginConfirmedEvent is published when a step-up flow reaches CONFIRMED.
type LoginConfirmedEvent struct {
	UserID string `json:"user_id"`
	Method string `json:"method"` // "totp", "skip" or "passkey"
}

// CredentialEvent is published on passkey registration and deletion.
type CredentialEvent struct {
	UserID       string `json:"user_id"`
	CredentialID string `json:"credential_id"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topics    struct {
		loginConfirmed       string
		credentialRegistered string
		credentialDeleted    string
	}
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	p := &WatermillPublisher{publisher: publisher}
	p.topics.loginConfirmed = "soteria.login_confirmed"
	p.topics.credentialRegistered = "soteria.credential_registered"
	p.topics.credentialDeleted = "soteria.credential_deleted"
	return p
}

// PublishLoginConfirmed publishes a login-confirmed event
func (p *WatermillPublisher) PublishLoginConfirmed(ctx context.Context, userID, method string) error {
	return p.publish(p.topics.loginConfirmed, LoginConfirmedEvent{
		UserID: userID,
		Method: method,
	})
}

// PublishCredentialRegistered publishes a credential-registered event
func (p *WatermillPublisher) PublishCredentialRegistered(ctx context.Context, userID, credentialID string) error {
	return p.publish(p.topics.credentialRegistered, CredentialEvent{
		UserID:       userID,
		CredentialID: credentialID,
	})
}

// PublishCredentialDeleted publishes a credential-deleted event
func (p *WatermillPublisher) PublishCredentialDeleted(ctx context.Context, userID, credentialID string) error {
	return p.publish(p.topics.credentialDeleted, CredentialEvent{
		UserID:       userID,
		CredentialID: credentialID,
	})
}

func (p *WatermillPublisher) publish(topic string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
