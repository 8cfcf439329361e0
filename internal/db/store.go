package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/goatnetwork/wallet-sweeper/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no record exists for the key
var ErrNotFound = errors.New("record not found")

// GetBalanceRecord returns the last observed balance of (address, chain)
func (dm *DatabaseManager) GetBalanceRecord(address string, chain types.ChainKind) (*types.BalanceRecord, error) {
	var row WalletBalance
	err := dm.walletDb.Where("address = ? AND chain = ?", address, chain.String()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get balance record %s:%s: %w", chain, address, err)
	}
	return &types.BalanceRecord{
		Address:     row.Address,
		Chain:       chain,
		Balance:     row.Balance,
		LastChecked: row.LastChecked,
	}, nil
}

// PutBalanceRecord upserts the balance of (address, chain)
func (dm *DatabaseManager) PutBalanceRecord(rec types.BalanceRecord) error {
	row := WalletBalance{
		Address:     rec.Address,
		Chain:       rec.Chain.String(),
		Balance:     rec.Balance,
		LastChecked: rec.LastChecked,
		UpdatedAt:   time.Now(),
	}
	err := dm.walletDb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}, {Name: "chain"}},
		DoUpdates: clause.AssignmentColumns([]string{"balance", "last_checked", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("put balance record %s:%s: %w", rec.Chain, rec.Address, err)
	}
	return nil
}

// SaveSweepAttempt upserts the journal row of an attempt
func (dm *DatabaseManager) SaveSweepAttempt(a *types.SweepAttempt) error {
	now := time.Now()
	row := SweepRecord{
		AttemptID:     a.ID,
		BatchID:       a.BatchID,
		WalletRef:     a.WalletRef,
		Chain:         a.Chain.String(),
		Address:       a.Address,
		Destination:   a.Destination,
		PreBalance:    a.PreBalance,
		Status:        string(a.Status),
		FailureReason: string(a.FailureReason),
		SubmissionID:  a.SubmissionID,
		Amount:        a.Amount,
		Fee:           a.Fee,
		AttemptCount:  a.AttemptCount,
		LastError:     a.LastError,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := dm.sweepDb.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "attempt_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"destination", "pre_balance", "status", "failure_reason", "submission_id",
			"amount", "fee", "attempt_count", "last_error", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save sweep attempt %s: %w", a.ID, err)
	}
	return nil
}

// ListSweepAttempts returns the journal of a batch in insertion order
func (dm *DatabaseManager) ListSweepAttempts(batchID string) ([]types.SweepAttempt, error) {
	var rows []SweepRecord
	if err := dm.sweepDb.Where("batch_id = ?", batchID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sweep attempts of %s: %w", batchID, err)
	}
	return toAttempts(rows), nil
}

// ListSweepAttemptsByStatus returns every journaled attempt in status
func (dm *DatabaseManager) ListSweepAttemptsByStatus(status types.SweepStatus) ([]types.SweepAttempt, error) {
	var rows []SweepRecord
	if err := dm.sweepDb.Where("status = ?", string(status)).Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list %s sweep attempts: %w", status, err)
	}
	return toAttempts(rows), nil
}

func toAttempts(rows []SweepRecord) []types.SweepAttempt {
	attempts := make([]types.SweepAttempt, 0, len(rows))
	for _, row := range rows {
		var chain types.ChainKind
		_ = chain.UnmarshalText([]byte(row.Chain))
		attempts = append(attempts, types.SweepAttempt{
			ID:            row.AttemptID,
			BatchID:       row.BatchID,
			WalletRef:     row.WalletRef,
			Chain:         chain,
			Address:       row.Address,
			Destination:   row.Destination,
			PreBalance:    row.PreBalance,
			Status:        types.SweepStatus(row.Status),
			FailureReason: types.FailureReason(row.FailureReason),
			SubmissionID:  row.SubmissionID,
			Amount:        row.Amount,
			Fee:           row.Fee,
			AttemptCount:  row.AttemptCount,
			LastError:     row.LastError,
			UpdatedAt:     row.UpdatedAt,
		})
	}
	return attempts
}
