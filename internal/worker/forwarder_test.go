package worker

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
	"avitobridge-backend/internal/service/forwarding"
)

// Mocks shared by the worker tests
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Add(ctx context.Context, stream string, values map[string]interface{}) error {
	args := m.Called(ctx, stream, values)
	return args.Error(0)
}

type MockAccountResolver struct {
	mock.Mock
}

func (m *MockAccountResolver) GetByAvitoUserID(ctx context.Context, avitoUserID int64) (*domain.AvitoAccount, error) {
	args := m.Called(ctx, avitoUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AvitoAccount), args.Error(1)
}

type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) GetByID(ctx context.Context, id int64) (*domain.AvitoAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AvitoAccount), args.Error(1)
}

type MockRecipientLister struct {
	mock.Mock
}

func (m *MockRecipientLister) Recipients(ctx context.Context, avitoUserID, accountID int64) ([]forwarding.Recipient, error) {
	args := m.Called(ctx, avitoUserID, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]forwarding.Recipient), args.Error(1)
}

type MockMessageLogger struct {
	mock.Mock
}

func (m *MockMessageLogger) Append(ctx context.Context, entry *domain.MessageLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func inboundEntry() *redis.XMessage {
	inbound := &domain.InboundMessage{
		AvitoUserID: 9000,
		ChatID:      "chat-1",
		SenderID:    555,
		Text:        "Ещё актуально?",
		CreatedTS:   1700000000,
	}
	return &redis.XMessage{ID: "1-0", Values: inbound.Values()}
}

func TestForwarderFansOutPerRecipient(t *testing.T) {
	accounts := new(MockAccountResolver)
	recipients := new(MockRecipientLister)
	messageLog := new(MockMessageLogger)
	bus := new(MockPublisher)
	forwarder := NewForwarder(accounts, recipients, messageLog, bus, zap.NewNop())

	ctx := context.Background()
	accounts.On("GetByAvitoUserID", ctx, int64(9000)).Return(&domain.AvitoAccount{ID: 42, AvitoUserID: 9000}, nil)
	messageLog.On("Append", ctx, mock.MatchedBy(func(e *domain.MessageLog) bool {
		return e.AccountID == 42 && e.Direction == domain.DirectionIn
	})).Return(nil)
	recipients.On("Recipients", ctx, int64(9000), int64(42)).Return([]forwarding.Recipient{
		{TelegramID: 100, CanReply: true},
		{TelegramID: 200, CanReply: false},
	}, nil)

	published := make([]map[string]interface{}, 0, 2)
	bus.On("Add", ctx, domain.StreamNewMessageEvents, mock.Anything).Run(func(args mock.Arguments) {
		published = append(published, args.Get(2).(map[string]interface{}))
	}).Return(nil)

	err := forwarder.Handle(ctx, inboundEntry())

	assert.NoError(t, err)
	assert.Len(t, published, 2)
	assert.Equal(t, "100", published[0]["user_telegram_id"])
	assert.Equal(t, "true", published[0]["can_reply"])
	assert.Equal(t, "200", published[1]["user_telegram_id"])
	assert.Equal(t, "false", published[1]["can_reply"])
}

func TestForwarderDropsWhenNoRecipients(t *testing.T) {
	accounts := new(MockAccountResolver)
	recipients := new(MockRecipientLister)
	messageLog := new(MockMessageLogger)
	bus := new(MockPublisher)
	forwarder := NewForwarder(accounts, recipients, messageLog, bus, zap.NewNop())

	ctx := context.Background()
	accounts.On("GetByAvitoUserID", ctx, int64(9000)).Return(&domain.AvitoAccount{ID: 42}, nil)
	messageLog.On("Append", ctx, mock.Anything).Return(nil)
	recipients.On("Recipients", ctx, int64(9000), int64(42)).Return([]forwarding.Recipient{}, nil)

	err := forwarder.Handle(ctx, inboundEntry())

	assert.NoError(t, err)
	bus.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything)
}

func TestForwarderDropsUnknownAccount(t *testing.T) {
	accounts := new(MockAccountResolver)
	bus := new(MockPublisher)
	forwarder := NewForwarder(accounts, new(MockRecipientLister), new(MockMessageLogger), bus, zap.NewNop())

	ctx := context.Background()
	accounts.On("GetByAvitoUserID", ctx, int64(9000)).Return(nil, nil)

	err := forwarder.Handle(ctx, inboundEntry())

	assert.NoError(t, err)
	bus.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything)
}

func TestForwarderDropsMalformedEntry(t *testing.T) {
	forwarder := NewForwarder(new(MockAccountResolver), new(MockRecipientLister), new(MockMessageLogger), new(MockPublisher), zap.NewNop())

	err := forwarder.Handle(context.Background(), &redis.XMessage{ID: "1-0", Values: map[string]interface{}{"garbage": "x"}})

	assert.NoError(t, err)
}
