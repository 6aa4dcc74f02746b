package wallet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
)

// Mocks
type MockChargeStore struct {
	mock.Mock
}

func (m *MockChargeStore) MarkProcessed(ctx context.Context, chargeID string) (bool, error) {
	args := m.Called(ctx, chargeID)
	return args.Bool(0), args.Error(1)
}

type MockLedgerStore struct {
	mock.Mock
}

func (m *MockLedgerStore) CreateAndUpdateBalance(ctx context.Context, userID int64, amount float64, description string) (*domain.Transaction, error) {
	args := m.Called(ctx, userID, amount, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func TestDepositCreditsOnce(t *testing.T) {
	charges := new(MockChargeStore)
	ledger := new(MockLedgerStore)
	service := NewService(charges, ledger, zap.NewNop())

	ctx := context.Background()
	charges.On("MarkProcessed", ctx, "charge-1").Return(true, nil)
	ledger.On("CreateAndUpdateBalance", ctx, int64(7), 100.0, "Пополнение баланса").
		Return(&domain.Transaction{UserID: 7, Amount: 100, BalanceAfter: 150}, nil)

	entry, err := service.Deposit(ctx, 7, 100, "charge-1", "Пополнение баланса")

	assert.NoError(t, err)
	assert.NotNil(t, entry)
	assert.Equal(t, 150.0, entry.BalanceAfter)
	charges.AssertExpectations(t)
	ledger.AssertExpectations(t)
}

func TestDepositReplayIsNoOp(t *testing.T) {
	charges := new(MockChargeStore)
	ledger := new(MockLedgerStore)
	service := NewService(charges, ledger, zap.NewNop())

	ctx := context.Background()
	charges.On("MarkProcessed", ctx, "charge-1").Return(false, nil)

	entry, err := service.Deposit(ctx, 7, 100, "charge-1", "Пополнение баланса")

	assert.NoError(t, err)
	assert.Nil(t, entry)
	ledger.AssertNotCalled(t, "CreateAndUpdateBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
