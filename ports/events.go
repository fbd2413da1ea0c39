package ports

import "context"

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishLoginConfirmed(ctx context.Context, userID, method string) error
	PublishCredentialRegistered(ctx context.Context, userID, credentialID string) error
	PublishCredentialDeleted(ctx context.Context, userID, credentialID string) error
}
