package view

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"avitobridge-backend/internal/avito"
	"avitobridge-backend/internal/domain"
)

// Mocks
type MockChatGateway struct {
	mock.Mock
}

func (m *MockChatGateway) GetChatInfo(ctx context.Context, chatID string) (*avito.ChatInfo, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*avito.ChatInfo), args.Error(1)
}

func (m *MockChatGateway) GetMessages(ctx context.Context, chatID string, limit int) ([]avito.Message, error) {
	args := m.Called(ctx, chatID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]avito.Message), args.Error(1)
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

type MockNoteLister struct {
	mock.Mock
}

func (m *MockNoteLister) ListForChat(ctx context.Context, accountID int64, chatID string) ([]*domain.ChatNote, error) {
	args := m.Called(ctx, accountID, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ChatNote), args.Error(1)
}

func testAccount() *domain.AvitoAccount {
	alias := "Основной"
	return &domain.AvitoAccount{ID: 42, AvitoUserID: 9000, Alias: &alias}
}

func chatInfoFixture() *avito.ChatInfo {
	info := &avito.ChatInfo{
		Users: []avito.ChatUser{
			{ID: 9000, Name: "Продавец"},
			{ID: 555, Name: "Иван"},
		},
	}
	info.Context.Value = avito.ItemContext{Title: "Велосипед", PriceString: "15 000 ₽", URL: "https://example.com/item"}
	return info
}

func inMessage(text string, created int64, read bool) avito.Message {
	msg := avito.Message{Direction: "in", Created: created, IsRead: read}
	msg.Content.Text = text
	return msg
}

func noNotes(notes *MockNoteLister) {
	notes.On("ListForChat", mock.Anything, int64(42), "chat-1").Return([]*domain.ChatNote{}, nil)
}

func TestGetOrRehydrateBuildsMissingView(t *testing.T) {
	gw := new(MockChatGateway)
	views := new(MockViewStore)
	notes := new(MockNoteLister)
	provider := NewProvider(views, notes, zap.NewNop())

	ctx := context.Background()
	key := domain.ViewKey(42, "chat-1")
	views.On("Get", ctx, key).Return(nil, nil)
	gw.On("GetChatInfo", ctx, "chat-1").Return(chatInfoFixture(), nil)
	gw.On("GetMessages", ctx, "chat-1", rehydrateMessageLimit).Return([]avito.Message{
		inMessage("Ещё актуально?", 1700000000, false),
	}, nil)
	noNotes(notes)
	views.On("Set", ctx, key, mock.AnythingOfType("*domain.ConversationView")).Return(nil)

	got, err := provider.GetOrRehydrate(ctx, gw, testAccount(), "chat-1")

	assert.NoError(t, err)
	assert.Equal(t, "Иван", got.InterlocutorName)
	assert.Equal(t, int64(555), got.InterlocutorID)
	assert.Equal(t, "Велосипед", got.ItemTitle)
	assert.Equal(t, "Ещё актуально?", got.LastClientMessageText)
	assert.False(t, got.IsLastMessageRead)
	assert.Equal(t, domain.ViewVersion, got.ViewVersion)
	if assert.NotNil(t, got.AccountAlias) {
		assert.Equal(t, "Основной", *got.AccountAlias)
	}
	views.AssertExpectations(t)
}

func TestGetOrRehydrateLoadsNotes(t *testing.T) {
	gw := new(MockChatGateway)
	views := new(MockViewStore)
	notes := new(MockNoteLister)
	provider := NewProvider(views, notes, zap.NewNop())

	name := "Пётр"
	author := &domain.User{ID: 7, TelegramID: 100, FirstName: &name}

	ctx := context.Background()
	key := domain.ViewKey(42, "chat-1")
	views.On("Get", ctx, key).Return(nil, nil)
	gw.On("GetChatInfo", ctx, "chat-1").Return(chatInfoFixture(), nil)
	gw.On("GetMessages", ctx, "chat-1", rehydrateMessageLimit).Return([]avito.Message{}, nil)
	notes.On("ListForChat", ctx, int64(42), "chat-1").Return([]*domain.ChatNote{
		{AccountID: 42, ChatID: "chat-1", AuthorID: 7, Text: "постоянный клиент", UpdatedAt: time.Unix(1700000000, 0), Author: author},
	}, nil)
	views.On("Set", ctx, key, mock.AnythingOfType("*domain.ConversationView")).Return(nil)

	got, err := provider.GetOrRehydrate(ctx, gw, testAccount(), "chat-1")

	assert.NoError(t, err)
	assert.Equal(t, domain.NoteEntry{AuthorName: "Пётр", Text: "постоянный клиент", Timestamp: 1700000000}, got.Notes["7"])
}

func TestGetOrRehydrateRefreshesCachedView(t *testing.T) {
	gw := new(MockChatGateway)
	views := new(MockViewStore)
	notes := new(MockNoteLister)
	provider := NewProvider(views, notes, zap.NewNop())

	cached := &domain.ConversationView{
		ViewVersion:      domain.ViewVersion,
		AccountID:        42,
		ChatID:           "chat-1",
		InterlocutorName: "Старое имя",
		Subscribers:      map[string]int{"100": 555},
		Notes:            map[string]domain.NoteEntry{},
		ActionLog: []domain.ActionLogEntry{
			{Type: domain.ActionManualReply, AuthorName: "Пётр", Text: "Да, в наличии"},
		},
		LastClientMessageText:      "Ещё актуально?",
		LastClientMessageTimestamp: 1700000000,
		IsLastMessageRead:          true,
	}

	ctx := context.Background()
	key := domain.ViewKey(42, "chat-1")
	views.On("Get", ctx, key).Return(cached, nil)
	gw.On("GetChatInfo", ctx, "chat-1").Return(chatInfoFixture(), nil)
	gw.On("GetMessages", ctx, "chat-1", rehydrateMessageLimit).Return([]avito.Message{
		inMessage("Где забрать?", 1700000100, true),
	}, nil)
	noNotes(notes)
	views.On("Set", ctx, key, mock.AnythingOfType("*domain.ConversationView")).Return(nil)

	got, err := provider.GetOrRehydrate(ctx, gw, testAccount(), "chat-1")

	assert.NoError(t, err)
	// A cached document of the current version is still refreshed from
	// the marketplace
	assert.Equal(t, "Иван", got.InterlocutorName)
	assert.Equal(t, "Где забрать?", got.LastClientMessageText)
	assert.Equal(t, map[string]int{"100": 555}, got.Subscribers)
	assert.Len(t, got.ActionLog, 1)
	gw.AssertExpectations(t)
	views.AssertExpectations(t)
}

func TestGetOrRehydrateServesCacheWhenMarketplaceDown(t *testing.T) {
	gw := new(MockChatGateway)
	views := new(MockViewStore)
	notes := new(MockNoteLister)
	provider := NewProvider(views, notes, zap.NewNop())

	cached := &domain.ConversationView{
		ViewVersion: domain.ViewVersion,
		AccountID:   42,
		ChatID:      "chat-1",
		Subscribers: map[string]int{"100": 555},
		Notes:       map[string]domain.NoteEntry{},
	}

	ctx := context.Background()
	views.On("Get", ctx, domain.ViewKey(42, "chat-1")).Return(cached, nil)
	gw.On("GetChatInfo", ctx, "chat-1").Return(nil, assert.AnError)
	gw.On("GetMessages", ctx, "chat-1", rehydrateMessageLimit).Return([]avito.Message{}, nil)
	noNotes(notes)

	got, err := provider.GetOrRehydrate(ctx, gw, testAccount(), "chat-1")

	assert.NoError(t, err)
	assert.Same(t, cached, got)
	views.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetOrRehydrateStaleCarriesSubscribers(t *testing.T) {
	gw := new(MockChatGateway)
	views := new(MockViewStore)
	notes := new(MockNoteLister)
	provider := NewProvider(views, notes, zap.NewNop())

	stale := &domain.ConversationView{
		ViewVersion: domain.ViewVersion - 1,
		AccountID:   42,
		ChatID:      "chat-1",
		Subscribers: map[string]int{"100": 555, "200": 556},
		ActionLog: []domain.ActionLogEntry{
			{Type: domain.ActionManualReply, AuthorName: "Пётр", Text: "Да, в наличии"},
		},
		IsLastMessageRead: false,
	}

	ctx := context.Background()
	key := domain.ViewKey(42, "chat-1")
	views.On("Get", ctx, key).Return(stale, nil)
	gw.On("GetChatInfo", ctx, "chat-1").Return(chatInfoFixture(), nil)
	gw.On("GetMessages", ctx, "chat-1", rehydrateMessageLimit).Return([]avito.Message{
		inMessage("Где забрать?", 1700000100, true),
	}, nil)
	noNotes(notes)
	views.On("Set", ctx, key, mock.AnythingOfType("*domain.ConversationView")).Return(nil)

	got, err := provider.GetOrRehydrate(ctx, gw, testAccount(), "chat-1")

	assert.NoError(t, err)
	assert.Equal(t, map[string]int{"100": 555, "200": 556}, got.Subscribers)
	assert.Len(t, got.ActionLog, 1)
	// The cached unread marker wins over the rebuilt read flag
	assert.False(t, got.IsLastMessageRead)
}

func TestSubscribeAndUnsubscribePersistBinding(t *testing.T) {
	views := new(MockViewStore)
	provider := NewProvider(views, new(MockNoteLister), zap.NewNop())

	view := &domain.ConversationView{Subscribers: map[string]int{}}
	ctx := context.Background()
	key := domain.ViewKey(42, "chat-1")
	views.On("Get", ctx, key).Return(view, nil)
	views.On("Update", ctx, key, view).Return(nil)

	assert.NoError(t, provider.Subscribe(ctx, key, 100, 77))
	assert.Equal(t, map[string]int{"100": 77}, view.Subscribers)

	assert.NoError(t, provider.Unsubscribe(ctx, key, 100))
	assert.Empty(t, view.Subscribers)
}

func TestMergeCachedKeepsNewerClientMessage(t *testing.T) {
	fresh := &domain.ConversationView{
		Subscribers: map[string]int{},
		Notes:       map[string]domain.NoteEntry{},
		ActionLog:   []domain.ActionLogEntry{},

		LastClientMessageText:      "Ещё актуально?",
		LastClientMessageTimestamp: 1700000000,
		IsLastMessageRead:          true,
	}
	cached := &domain.ConversationView{
		Subscribers: map[string]int{},
		Notes:       map[string]domain.NoteEntry{},

		// The webhook outran the marketplace history API
		LastClientMessageText:      "Где забрать?",
		LastClientMessageTimestamp: 1700000100,
		IsLastMessageRead:          false,
	}

	mergeCached(fresh, cached)

	assert.Equal(t, "Где забрать?", fresh.LastClientMessageText)
	assert.Equal(t, int64(1700000100), fresh.LastClientMessageTimestamp)
	assert.False(t, fresh.IsLastMessageRead)
}

func TestMergeCachedIsIdempotent(t *testing.T) {
	cached := &domain.ConversationView{
		Subscribers:       map[string]int{"100": 555},
		Notes:             map[string]domain.NoteEntry{"100": {AuthorName: "Пётр", Text: "постоянный клиент"}},
		ActionLog:         []domain.ActionLogEntry{{Type: domain.ActionManualReply, Text: "ответ"}},
		IsLastMessageRead: false,
	}
	fresh := &domain.ConversationView{
		Subscribers:       map[string]int{},
		Notes:             map[string]domain.NoteEntry{},
		ActionLog:         []domain.ActionLogEntry{},
		IsLastMessageRead: true,
	}

	mergeCached(fresh, cached)
	once := *fresh
	mergeCached(fresh, cached)

	assert.Equal(t, once.Subscribers, fresh.Subscribers)
	assert.Equal(t, once.Notes, fresh.Notes)
	assert.Equal(t, once.ActionLog, fresh.ActionLog)
	assert.Equal(t, once.IsLastMessageRead, fresh.IsLastMessageRead)
}
