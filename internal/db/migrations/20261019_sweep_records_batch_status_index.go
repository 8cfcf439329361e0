package migrations

import (
	"gorm.io/gorm"
)

// AddSweepRecordBatchStatusIndex indexes the journal for per-batch status reads
func AddSweepRecordBatchStatusIndex(tx *gorm.DB) error {
	return tx.Exec("CREATE INDEX IF NOT EXISTS sweeprecord_batch_status_index ON sweep_records (batch_id, status)").Error
}
