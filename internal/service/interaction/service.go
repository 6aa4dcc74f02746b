package interaction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
	redisrepo "avitobridge-backend/internal/repository/redis"
	"avitobridge-backend/pkg/crypto"
)

// Interaction states. A user is in at most one state; any new command
// clears it.
const (
	StateAwaitingNote           = "awaiting_note"
	StateAwaitingInvitePassword = "awaiting_invite_password"
)

// Payload keys carried between the prompting step and the user's answer
const (
	payloadAccountID  = "account_id"
	payloadChatID     = "chat_id"
	payloadInviteCode = "invite_code"
)

// InteractionStore keeps the per-user dialog state
type InteractionStore interface {
	Get(ctx context.Context, telegramID int64) (*redisrepo.PendingInteraction, error)
	Set(ctx context.Context, telegramID int64, interaction *redisrepo.PendingInteraction) error
	Clear(ctx context.Context, telegramID int64) error
}

// NoteStore persists chat notes
type NoteStore interface {
	Upsert(ctx context.Context, note *domain.ChatNote) error
}

// InviteStore looks up and accepts helper invites
type InviteStore interface {
	GetByInviteCode(ctx context.Context, inviteCode string) (*domain.ForwardingRule, error)
	AcceptInvite(ctx context.Context, inviteCode string, targetTelegramID int64) (bool, error)
}

// Outcome is the user-visible result of consuming a dialog state
type Outcome struct {
	Reply   string
	Handled bool
}

// Service is the dialog state machine for multi-step flows: the user is
// prompted, the awaited state is stored, and their next plain message
// completes the flow
type Service struct {
	interactions InteractionStore
	notes        NoteStore
	invites      InviteStore
	log          *zap.Logger
}

// NewService creates a new Service
func NewService(interactions InteractionStore, notes NoteStore, invites InviteStore, log *zap.Logger) *Service {
	return &Service{
		interactions: interactions,
		notes:        notes,
		invites:      invites,
		log:          log,
	}
}

// AwaitNote puts the user into the note-editing state for one chat
func (s *Service) AwaitNote(ctx context.Context, telegramID, accountID int64, chatID string) error {
	return s.interactions.Set(ctx, telegramID, &redisrepo.PendingInteraction{
		State: StateAwaitingNote,
		Payload: map[string]string{
			payloadAccountID: fmt.Sprintf("%d", accountID),
			payloadChatID:    chatID,
		},
	})
}

// AwaitInvitePassword puts the user into the invite-password state
func (s *Service) AwaitInvitePassword(ctx context.Context, telegramID int64, inviteCode string) error {
	return s.interactions.Set(ctx, telegramID, &redisrepo.PendingInteraction{
		State:   StateAwaitingInvitePassword,
		Payload: map[string]string{payloadInviteCode: inviteCode},
	})
}

// Cancel returns the user to the idle state
func (s *Service) Cancel(ctx context.Context, telegramID int64) error {
	return s.interactions.Clear(ctx, telegramID)
}

// HandleText consumes the user's pending state with their message text.
// Handled=false means the user was idle and the text is a plain message
// for the caller to route elsewhere.
func (s *Service) HandleText(ctx context.Context, user *domain.User, text string) (*Outcome, error) {
	pending, err := s.interactions.Get(ctx, user.TelegramID)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return &Outcome{Handled: false}, nil
	}

	// Consumed regardless of outcome: a failed step should not trap the user
	if err := s.interactions.Clear(ctx, user.TelegramID); err != nil {
		return nil, err
	}

	switch pending.State {
	case StateAwaitingNote:
		return s.completeNote(ctx, user, pending.Payload, text)
	case StateAwaitingInvitePassword:
		return s.completeInvite(ctx, user, pending.Payload, text)
	default:
		s.log.Warn("unknown interaction state", zap.String("state", pending.State))
		return &Outcome{Handled: false}, nil
	}
}

func (s *Service) completeNote(ctx context.Context, user *domain.User, payload map[string]string, text string) (*Outcome, error) {
	var accountID int64
	if _, err := fmt.Sscanf(payload[payloadAccountID], "%d", &accountID); err != nil {
		return &Outcome{Handled: true, Reply: "Не удалось сохранить заметку."}, nil
	}

	note := &domain.ChatNote{
		AccountID: accountID,
		ChatID:    payload[payloadChatID],
		AuthorID:  user.ID,
		Text:      text,
	}
	if err := s.notes.Upsert(ctx, note); err != nil {
		return nil, fmt.Errorf("failed to save note: %w", err)
	}
	return &Outcome{Handled: true, Reply: "📝 Заметка сохранена."}, nil
}

func (s *Service) completeInvite(ctx context.Context, user *domain.User, payload map[string]string, password string) (*Outcome, error) {
	code := payload[payloadInviteCode]

	rule, err := s.invites.GetByInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if rule == nil || rule.IsAccepted() {
		return &Outcome{Handled: true, Reply: "Приглашение недействительно."}, nil
	}

	if rule.InvitePasswordHash != nil {
		if !crypto.CheckInvitePassword(*rule.InvitePasswordHash, password) {
			return &Outcome{Handled: true, Reply: "❌ Неверный пароль."}, nil
		}
	}

	accepted, err := s.invites.AcceptInvite(ctx, code, user.TelegramID)
	if err != nil {
		return nil, fmt.Errorf("failed to accept invite: %w", err)
	}
	if !accepted {
		return &Outcome{Handled: true, Reply: "Приглашение уже использовано."}, nil
	}
	return &Outcome{Handled: true, Reply: "✅ Приглашение принято. Теперь вам будут приходить сообщения."}, nil
}
