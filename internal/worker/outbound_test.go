package worker

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"avitobridge-backend/internal/avito"
	"avitobridge-backend/internal/domain"
)

// Mocks
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) GetChatInfo(ctx context.Context, chatID string) (*avito.ChatInfo, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*avito.ChatInfo), args.Error(1)
}

func (m *MockGateway) GetMessages(ctx context.Context, chatID string, limit int) ([]avito.Message, error) {
	args := m.Called(ctx, chatID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]avito.Message), args.Error(1)
}

func (m *MockGateway) GetVoiceFiles(ctx context.Context, voiceIDs []string) (map[string]string, error) {
	args := m.Called(ctx, voiceIDs)
	return args.Get(0).(map[string]string), args.Error(1)
}

func (m *MockGateway) SendText(ctx context.Context, chatID, text string) error {
	args := m.Called(ctx, chatID, text)
	return args.Error(0)
}

func (m *MockGateway) SendImage(ctx context.Context, chatID, imageID, caption string) error {
	args := m.Called(ctx, chatID, imageID, caption)
	return args.Error(0)
}

func (m *MockGateway) MarkRead(ctx context.Context, chatID string) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *MockGateway) BlockUser(ctx context.Context, userID int64, itemID *int64) error {
	args := m.Called(ctx, userID, itemID)
	return args.Error(0)
}

func (m *MockGateway) UnblockUser(ctx context.Context, userID int64) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type MockViewStore struct {
	mock.Mock
}

func (m *MockViewStore) Get(ctx context.Context, viewKey string) (*domain.ConversationView, error) {
	args := m.Called(ctx, viewKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConversationView), args.Error(1)
}

func (m *MockViewStore) Set(ctx context.Context, viewKey string, view *domain.ConversationView) error {
	args := m.Called(ctx, viewKey, view)
	return args.Error(0)
}

func (m *MockViewStore) Update(ctx context.Context, viewKey string, view *domain.ConversationView) error {
	args := m.Called(ctx, viewKey, view)
	return args.Error(0)
}

type MockSubscriberUpdater struct {
	mock.Mock
}

func (m *MockSubscriberUpdater) UpdateAllSubscribers(ctx context.Context, v *domain.ConversationView) error {
	args := m.Called(ctx, v)
	return args.Error(0)
}

func outgoingEntry() *redis.XMessage {
	out := &domain.OutgoingMessage{
		AccountID:  42,
		ChatID:     "chat-1",
		Text:       "Да, в наличии",
		ActionType: domain.ActionTypeManualReply,
		AuthorName: "Пётр",
	}
	return &redis.XMessage{ID: "1-0", Values: out.Values()}
}

func newDispatcher(accounts *MockAccountStore, gw *MockGateway, messageLog *MockMessageLogger, views *MockViewStore, updater *MockSubscriberUpdater) *OutboundDispatcher {
	factory := func(account *domain.AvitoAccount) Gateway { return gw }
	return NewOutboundDispatcher(accounts, factory, messageLog, views, updater, zap.NewNop())
}

func TestOutboundDispatcherSendsAndSyncsCard(t *testing.T) {
	accounts := new(MockAccountStore)
	gw := new(MockGateway)
	messageLog := new(MockMessageLogger)
	views := new(MockViewStore)
	updater := new(MockSubscriberUpdater)
	dispatcher := newDispatcher(accounts, gw, messageLog, views, updater)

	view := &domain.ConversationView{
		ViewVersion:       domain.ViewVersion,
		AccountID:         42,
		ChatID:            "chat-1",
		IsLastMessageRead: false,
		Subscribers:       map[string]int{"100": 11},
	}

	ctx := context.Background()
	key := domain.ViewKey(42, "chat-1")
	accounts.On("GetByID", ctx, int64(42)).Return(activeAccount(), nil)
	gw.On("SendText", ctx, "chat-1", "Да, в наличии").Return(nil)
	messageLog.On("Append", ctx, mock.MatchedBy(func(e *domain.MessageLog) bool {
		return e.Direction == domain.DirectionOut && !e.IsAutoReply
	})).Return(nil)
	views.On("Get", ctx, key).Return(view, nil)
	views.On("Update", ctx, key, view).Return(nil)
	updater.On("UpdateAllSubscribers", ctx, view).Return(nil)

	err := dispatcher.Handle(ctx, outgoingEntry())

	assert.NoError(t, err)
	assert.True(t, view.IsLastMessageRead)
	assert.Len(t, view.ActionLog, 1)
	assert.Equal(t, "Пётр", view.ActionLog[0].AuthorName)
	updater.AssertExpectations(t)
}

func TestOutboundDispatcherAcksFailedSend(t *testing.T) {
	accounts := new(MockAccountStore)
	gw := new(MockGateway)
	messageLog := new(MockMessageLogger)
	views := new(MockViewStore)
	updater := new(MockSubscriberUpdater)
	dispatcher := newDispatcher(accounts, gw, messageLog, views, updater)

	ctx := context.Background()
	accounts.On("GetByID", ctx, int64(42)).Return(activeAccount(), nil)
	gw.On("SendText", ctx, "chat-1", "Да, в наличии").Return(&avito.Error{StatusCode: 500, Message: "oops"})

	err := dispatcher.Handle(ctx, outgoingEntry())

	// Acked despite the failure: replies are not silently re-sent later
	assert.NoError(t, err)
	messageLog.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	views.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestOutboundDispatcherAutoReplyLogsTrigger(t *testing.T) {
	accounts := new(MockAccountStore)
	gw := new(MockGateway)
	messageLog := new(MockMessageLogger)
	views := new(MockViewStore)
	updater := new(MockSubscriberUpdater)
	dispatcher := newDispatcher(accounts, gw, messageLog, views, updater)

	out := &domain.OutgoingMessage{
		AccountID:  42,
		ChatID:     "chat-1",
		Text:       "Здравствуйте!",
		ActionType: domain.ActionTypeAutoReply,
		AuthorName: "Автоответчик",
		RuleName:   "Приветствие",
	}

	ctx := context.Background()
	accounts.On("GetByID", ctx, int64(42)).Return(activeAccount(), nil)
	gw.On("SendText", ctx, "chat-1", "Здравствуйте!").Return(nil)
	messageLog.On("Append", ctx, mock.MatchedBy(func(e *domain.MessageLog) bool {
		return e.IsAutoReply && e.TriggerName != nil && *e.TriggerName == "Приветствие"
	})).Return(nil)
	views.On("Get", ctx, domain.ViewKey(42, "chat-1")).Return(nil, nil)

	err := dispatcher.Handle(ctx, &redis.XMessage{ID: "1-0", Values: out.Values()})

	assert.NoError(t, err)
	messageLog.AssertExpectations(t)
}

func TestChatActionStageMarkRead(t *testing.T) {
	accounts := new(MockAccountStore)
	gw := new(MockGateway)
	views := new(MockViewStore)
	updater := new(MockSubscriberUpdater)
	factory := func(account *domain.AvitoAccount) Gateway { return gw }
	stage := NewChatActionStage(accounts, factory, views, updater, zap.NewNop())

	view := &domain.ConversationView{
		ViewVersion: domain.ViewVersion,
		AccountID:   42,
		ChatID:      "chat-1",
		Subscribers: map[string]int{},
	}
	action := &domain.ChatAction{AccountID: 42, ChatID: "chat-1", Action: "mark_read"}

	ctx := context.Background()
	key := domain.ViewKey(42, "chat-1")
	accounts.On("GetByID", ctx, int64(42)).Return(activeAccount(), nil)
	views.On("Get", ctx, key).Return(view, nil)
	gw.On("MarkRead", ctx, "chat-1").Return(nil)
	views.On("Update", ctx, key, view).Return(nil)
	updater.On("UpdateAllSubscribers", ctx, view).Return(nil)

	err := stage.Handle(ctx, &redis.XMessage{ID: "1-0", Values: action.Values()})

	assert.NoError(t, err)
	assert.True(t, view.IsLastMessageRead)
}

func TestChatActionStageBlockNeedsView(t *testing.T) {
	accounts := new(MockAccountStore)
	gw := new(MockGateway)
	views := new(MockViewStore)
	factory := func(account *domain.AvitoAccount) Gateway { return gw }
	stage := NewChatActionStage(accounts, factory, views, new(MockSubscriberUpdater), zap.NewNop())

	action := &domain.ChatAction{AccountID: 42, ChatID: "chat-1", Action: "block"}

	ctx := context.Background()
	accounts.On("GetByID", ctx, int64(42)).Return(activeAccount(), nil)
	views.On("Get", ctx, domain.ViewKey(42, "chat-1")).Return(nil, nil)

	err := stage.Handle(ctx, &redis.XMessage{ID: "1-0", Values: action.Values()})

	assert.NoError(t, err)
	gw.AssertNotCalled(t, "BlockUser", mock.Anything, mock.Anything, mock.Anything)
}
