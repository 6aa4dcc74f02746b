package interaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
	redisrepo "avitobridge-backend/internal/repository/redis"
	"avitobridge-backend/pkg/crypto"
)

// Mocks
type MockInteractionStore struct {
	mock.Mock
}

func (m *MockInteractionStore) Get(ctx context.Context, telegramID int64) (*redisrepo.PendingInteraction, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*redisrepo.PendingInteraction), args.Error(1)
}

func (m *MockInteractionStore) Set(ctx context.Context, telegramID int64, interaction *redisrepo.PendingInteraction) error {
	args := m.Called(ctx, telegramID, interaction)
	return args.Error(0)
}

func (m *MockInteractionStore) Clear(ctx context.Context, telegramID int64) error {
	args := m.Called(ctx, telegramID)
	return args.Error(0)
}

type MockNoteStore struct {
	mock.Mock
}

func (m *MockNoteStore) Upsert(ctx context.Context, note *domain.ChatNote) error {
	args := m.Called(ctx, note)
	return args.Error(0)
}

type MockInviteStore struct {
	mock.Mock
}

func (m *MockInviteStore) GetByInviteCode(ctx context.Context, inviteCode string) (*domain.ForwardingRule, error) {
	args := m.Called(ctx, inviteCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ForwardingRule), args.Error(1)
}

func (m *MockInviteStore) AcceptInvite(ctx context.Context, inviteCode string, targetTelegramID int64) (bool, error) {
	args := m.Called(ctx, inviteCode, targetTelegramID)
	return args.Bool(0), args.Error(1)
}

func helper() *domain.User {
	return &domain.User{ID: 5, TelegramID: 200}
}

func TestHandleTextIdleUserNotHandled(t *testing.T) {
	interactions := new(MockInteractionStore)
	service := NewService(interactions, new(MockNoteStore), new(MockInviteStore), zap.NewNop())

	ctx := context.Background()
	interactions.On("Get", ctx, int64(200)).Return(nil, nil)

	outcome, err := service.HandleText(ctx, helper(), "просто сообщение")

	assert.NoError(t, err)
	assert.False(t, outcome.Handled)
}

func TestHandleTextSavesNote(t *testing.T) {
	interactions := new(MockInteractionStore)
	notes := new(MockNoteStore)
	service := NewService(interactions, notes, new(MockInviteStore), zap.NewNop())

	ctx := context.Background()
	interactions.On("Get", ctx, int64(200)).Return(&redisrepo.PendingInteraction{
		State:   StateAwaitingNote,
		Payload: map[string]string{"account_id": "42", "chat_id": "chat-1"},
	}, nil)
	interactions.On("Clear", ctx, int64(200)).Return(nil)
	notes.On("Upsert", ctx, mock.MatchedBy(func(n *domain.ChatNote) bool {
		return n.AccountID == 42 && n.ChatID == "chat-1" && n.AuthorID == 5 && n.Text == "постоянный клиент"
	})).Return(nil)

	outcome, err := service.HandleText(ctx, helper(), "постоянный клиент")

	assert.NoError(t, err)
	assert.True(t, outcome.Handled)
	assert.Contains(t, outcome.Reply, "сохранена")
	notes.AssertExpectations(t)
}

func TestHandleTextAcceptsInviteWithPassword(t *testing.T) {
	interactions := new(MockInteractionStore)
	invites := new(MockInviteStore)
	service := NewService(interactions, new(MockNoteStore), invites, zap.NewNop())

	hash, err := crypto.HashInvitePassword("secret")
	assert.NoError(t, err)

	ctx := context.Background()
	interactions.On("Get", ctx, int64(200)).Return(&redisrepo.PendingInteraction{
		State:   StateAwaitingInvitePassword,
		Payload: map[string]string{"invite_code": "INV-1"},
	}, nil)
	interactions.On("Clear", ctx, int64(200)).Return(nil)
	invites.On("GetByInviteCode", ctx, "INV-1").Return(&domain.ForwardingRule{
		InviteCode:         "INV-1",
		InvitePasswordHash: &hash,
	}, nil)
	invites.On("AcceptInvite", ctx, "INV-1", int64(200)).Return(true, nil)

	outcome, err := service.HandleText(ctx, helper(), "secret")

	assert.NoError(t, err)
	assert.True(t, outcome.Handled)
	assert.Contains(t, outcome.Reply, "принято")
}

func TestHandleTextRejectsWrongPassword(t *testing.T) {
	interactions := new(MockInteractionStore)
	invites := new(MockInviteStore)
	service := NewService(interactions, new(MockNoteStore), invites, zap.NewNop())

	hash, err := crypto.HashInvitePassword("secret")
	assert.NoError(t, err)

	ctx := context.Background()
	interactions.On("Get", ctx, int64(200)).Return(&redisrepo.PendingInteraction{
		State:   StateAwaitingInvitePassword,
		Payload: map[string]string{"invite_code": "INV-1"},
	}, nil)
	interactions.On("Clear", ctx, int64(200)).Return(nil)
	invites.On("GetByInviteCode", ctx, "INV-1").Return(&domain.ForwardingRule{
		InviteCode:         "INV-1",
		InvitePasswordHash: &hash,
	}, nil)

	outcome, err := service.HandleText(ctx, helper(), "wrong")

	assert.NoError(t, err)
	assert.True(t, outcome.Handled)
	assert.Contains(t, outcome.Reply, "Неверный пароль")
	invites.AssertNotCalled(t, "AcceptInvite", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleTextStateIsConsumedOnce(t *testing.T) {
	interactions := new(MockInteractionStore)
	notes := new(MockNoteStore)
	service := NewService(interactions, notes, new(MockInviteStore), zap.NewNop())

	ctx := context.Background()
	interactions.On("Get", ctx, int64(200)).Return(&redisrepo.PendingInteraction{
		State:   StateAwaitingNote,
		Payload: map[string]string{"account_id": "bad", "chat_id": "chat-1"},
	}, nil)
	interactions.On("Clear", ctx, int64(200)).Return(nil)

	outcome, err := service.HandleText(ctx, helper(), "текст")

	// The broken state is still cleared so the user is not trapped
	assert.NoError(t, err)
	assert.True(t, outcome.Handled)
	interactions.AssertCalled(t, "Clear", ctx, int64(200))
}
