package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tcex/engine/pkg/decimal"
	"github.com/tcex/engine/pkg/storage"
	"github.com/tcex/engine/pkg/util"
)

var (
	ErrInvalidAmount       = errors.New("risk: invalid amount")
	ErrAmountBelowMinimum  = errors.New("risk: amount below minimum")
	ErrAmountAboveMaximum  = errors.New("risk: amount exceeds maximum")
	ErrInsufficientBalance = errors.New("risk: insufficient balance")
)

var (
	minDeposit  = decimal.MustParse("100")
	maxDeposit  = decimal.MustParse("10000000")
	minWithdraw = decimal.MustParse("100")
)

// updateRetries bounds the conditional-update retry loop for wallet
// mutations racing with fills on other listings.
const updateRetries = 5

// Wallets manages user wallet lifecycle and deposits/withdrawals. Every
// balance mutation is a conditional write retried with fresh reads, so
// concurrent mutations from matching sessions can never lose an update.
type Wallets struct {
	store *storage.Store
	clock util.Clock
	log   *zap.SugaredLogger
}

func NewWallets(store *storage.Store, clock util.Clock, log *zap.SugaredLogger) *Wallets {
	return &Wallets{store: store, clock: clock, log: log}
}

// GetOrCreate returns the user's wallet, creating an empty one on first
// use.
func (ws *Wallets) GetOrCreate(ctx context.Context, userID string) (*storage.Wallet, error) {
	w, err := ws.store.GetWallet(userID)
	if err != nil || w != nil {
		return w, err
	}

	now := ws.clock.Now().UTC()
	fresh := &storage.Wallet{
		ID:        uuid.NewString(),
		UserID:    userID,
		Currency:  storage.DefaultCurrency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	batch := storage.NewBatch()
	batch.PutNewWallet(fresh)
	if err := ws.store.Commit(batch); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost the creation race; the winner's wallet is fine.
			return ws.store.GetWallet(userID)
		}
		return nil, err
	}
	return fresh, nil
}

// Deposit credits available balance and records a ledger entry.
func (ws *Wallets) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (*storage.Wallet, *storage.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}
	if amount.LT(minDeposit) {
		return nil, nil, ErrAmountBelowMinimum
	}
	if amount.GT(maxDeposit) {
		return nil, nil, ErrAmountAboveMaximum
	}

	for attempt := 0; attempt < updateRetries; attempt++ {
		w, err := ws.GetOrCreate(ctx, userID)
		if err != nil {
			return nil, nil, err
		}

		now := ws.clock.Now().UTC()
		updated := *w
		updated.AvailableBalance = w.AvailableBalance.Add(amount)
		updated.TotalDeposited = w.TotalDeposited.Add(amount)
		updated.UpdatedAt = now

		tx := &storage.WalletTransaction{
			ID:            uuid.NewString(),
			WalletID:      w.ID,
			UserID:        userID,
			Type:          "deposit",
			Amount:        amount,
			BalanceBefore: w.AvailableBalance,
			BalanceAfter:  updated.AvailableBalance,
			Description:   "Deposit",
			CreatedAt:     now,
		}

		batch := storage.NewBatch()
		batch.PutWallet(&updated, w.AvailableBalance, w.LockedBalance)
		batch.PutWalletTx(tx)
		err = ws.store.Commit(batch)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		ws.log.Infow("wallet_deposit", "user", userID, "amount", amount)
		return &updated, tx, nil
	}
	return nil, nil, fmt.Errorf("deposit for %s: %w", userID, storage.ErrConflict)
}

// Withdraw debits available balance if sufficient and records a ledger
// entry. A concurrent balance change is retried with a fresh read, so a
// withdrawal can never overspend.
func (ws *Wallets) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (*storage.Wallet, *storage.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}
	if amount.LT(minWithdraw) {
		return nil, nil, ErrAmountBelowMinimum
	}

	for attempt := 0; attempt < updateRetries; attempt++ {
		w, err := ws.store.GetWallet(userID)
		if err != nil {
			return nil, nil, err
		}
		if w == nil || !w.AvailableBalance.GTE(amount) {
			return nil, nil, ErrInsufficientBalance
		}

		now := ws.clock.Now().UTC()
		updated := *w
		updated.AvailableBalance = w.AvailableBalance.Sub(amount)
		updated.TotalWithdrawn = w.TotalWithdrawn.Add(amount)
		updated.UpdatedAt = now

		tx := &storage.WalletTransaction{
			ID:            uuid.NewString(),
			WalletID:      w.ID,
			UserID:        userID,
			Type:          "withdrawal",
			Amount:        amount,
			BalanceBefore: w.AvailableBalance,
			BalanceAfter:  updated.AvailableBalance,
			Description:   "Withdrawal",
			CreatedAt:     now,
		}

		batch := storage.NewBatch()
		batch.PutWallet(&updated, w.AvailableBalance, w.LockedBalance)
		batch.PutWalletTx(tx)
		err = ws.store.Commit(batch)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		ws.log.Infow("wallet_withdrawal", "user", userID, "amount", amount)
		return &updated, tx, nil
	}
	return nil, nil, fmt.Errorf("withdrawal for %s: %w", userID, storage.ErrConflict)
}
