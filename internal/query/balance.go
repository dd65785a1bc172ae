package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"PredictLedger/internal/ledger"

	"github.com/google/uuid"
)

// WalletView is a user's custodial balance.
type WalletView struct {
	UserID         uuid.UUID `json:"user_id"`
	AccountPath    string    `json:"account_path"`
	Balance        uint64    `json:"balance"`
	BalanceDisplay string    `json:"balance_display"`
	AsOfSequence   int64     `json:"as_of_sequence"`
}

// GetWallet returns a user's wallet balance. An unknown user has a zero
// balance, not an error.
func (qs *QueryService) GetWallet(ctx context.Context, userID uuid.UUID) (*WalletView, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	path := ledger.WalletKey(userID).AccountPath()
	balance, err := qs.getProjectedBalance(ctx, path)
	if err != nil {
		return nil, err
	}

	return &WalletView{
		UserID:         userID,
		AccountPath:    path,
		Balance:        balance,
		BalanceDisplay: qs.units.Amount(balance),
		AsOfSequence:   asOfSeq,
	}, nil
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (uint64, error) {
	var balance string
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance::TEXT FROM projections.balances WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(balance, 10, 64)
}
