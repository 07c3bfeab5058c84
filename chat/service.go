package chat

import (
	"context"

	"github.com/lalith-99/chatlink/models"
)

// Service is the slice of the REST collaborator this package consumes.
//
// Declared here, on the consuming side, the way handlers depend on
// repository interfaces rather than concrete stores: *rest.Client satisfies
// it in production, tests substitute an in-memory fake.
type Service interface {
	Conversations(ctx context.Context) ([]models.Conversation, error)
	History(ctx context.Context, key string) ([]models.Message, error)
	UnreadTotal(ctx context.Context) (int, error)
	Send(ctx context.Context, key, body string) (*models.Message, error)
	MarkRead(ctx context.Context, key string) error
	MarkAllRead(ctx context.Context) error
}
