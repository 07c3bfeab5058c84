package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lalith-99/chatlink/config"
	"github.com/lalith-99/chatlink/models"
)

// fakeService is an in-memory collaborator. Tests mutate its fields to
// shape responses and read its counters to assert on call traffic.
type fakeService struct {
	mu sync.Mutex

	conversations []models.Conversation
	history       map[string][]models.Message
	historyDelay  map[string]time.Duration
	unreadTotal   int

	convDelay   time.Duration
	markReadErr error
	sendErr     error

	convCalls    int
	unreadCalls  int
	markReadKeys []string
	markAllCalls int
	sendBodies   []string
}

func newFakeService() *fakeService {
	return &fakeService{
		history:      make(map[string][]models.Message),
		historyDelay: make(map[string]time.Duration),
	}
}

func (f *fakeService) Conversations(ctx context.Context) ([]models.Conversation, error) {
	f.mu.Lock()
	f.convCalls++
	delay := f.convDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Conversation, len(f.conversations))
	copy(out, f.conversations)
	return out, nil
}

func (f *fakeService) History(ctx context.Context, key string) ([]models.Message, error) {
	f.mu.Lock()
	delay := f.historyDelay[key]
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Message, len(f.history[key]))
	copy(out, f.history[key])
	return out, nil
}

func (f *fakeService) UnreadTotal(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreadCalls++
	return f.unreadTotal, nil
}

func (f *fakeService) Send(ctx context.Context, key, body string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sendBodies = append(f.sendBodies, body)
	return &models.Message{
		ID:              "srv-" + uuid.NewString(),
		ConversationKey: key,
		Body:            body,
		CreatedAt:       time.Now(),
	}, nil
}

func (f *fakeService) MarkRead(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markReadErr != nil {
		return f.markReadErr
	}
	f.markReadKeys = append(f.markReadKeys, key)
	return nil
}

func (f *fakeService) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markAllCalls++
	return nil
}

func (f *fakeService) conversationCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convCalls
}

func (f *fakeService) markReadCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.markReadKeys))
	copy(out, f.markReadKeys)
	return out
}

// fastOptions returns Options with timing windows small enough for tests.
func fastOptions() *config.Options {
	opts := config.Defaults()
	opts.RefreshDebounce = 20 * time.Millisecond
	opts.MarkReadDelay = 20 * time.Millisecond
	opts.ReceiptClearDelay = 60 * time.Millisecond
	opts.ReconnectDelay = 20 * time.Millisecond
	return opts
}

func staffIdentity() models.Identity {
	return models.Identity{
		UserID:   uuid.New(),
		TenantID: uuid.New(),
		Email:    "staff@example.com",
		Role:     models.RoleStaff,
	}
}
