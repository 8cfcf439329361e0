package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goatnetwork/wallet-sweeper/internal/config"
	"github.com/goatnetwork/wallet-sweeper/internal/db/migrations"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DatabaseManager owns the local record store: observed wallet balances and
// the sweep attempt journal, one sqlite file each
type DatabaseManager struct {
	walletDb *gorm.DB
	sweepDb  *gorm.DB
}

func NewDatabaseManager() *DatabaseManager {
	dm, err := OpenDatabaseManager(config.AppConfig.DbDir)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	return dm
}

// OpenDatabaseManager opens (and migrates) the databases under dbDir
func OpenDatabaseManager(dbDir string) (*DatabaseManager, error) {
	if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dm := &DatabaseManager{}
	var err error
	walletPath := filepath.Join(dbDir, "wallet.db")
	if dm.walletDb, err = openSqlite(walletPath); err != nil {
		return nil, fmt.Errorf("connect to wallet database: %w", err)
	}
	log.Debugf("Wallet database connected successfully, path: %s", walletPath)

	sweepPath := filepath.Join(dbDir, "sweep.db")
	if dm.sweepDb, err = openSqlite(sweepPath); err != nil {
		return nil, fmt.Errorf("connect to sweep database: %w", err)
	}
	log.Debugf("Sweep database connected successfully, path: %s", sweepPath)

	if err := dm.autoMigrate(); err != nil {
		return nil, err
	}
	log.Debugf("Database migration completed successfully")
	return dm, nil
}

func openSqlite(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
}

func (dm *DatabaseManager) autoMigrate() error {
	if err := dm.walletDb.AutoMigrate(&WalletBalance{}); err != nil {
		return fmt.Errorf("migrate wallet database: %w", err)
	}
	if err := dm.sweepDb.AutoMigrate(&SweepRecord{}); err != nil {
		return fmt.Errorf("migrate sweep database: %w", err)
	}

	mm := migrations.NewMigrationManager(dm.sweepDb)
	if err := mm.EnsureMigrationTable(); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	if err := mm.RunMigration("20261019_sweep_records_batch_status_index", migrations.AddSweepRecordBatchStatusIndex); err != nil {
		return err
	}
	return nil
}

func (dm *DatabaseManager) GetWalletDB() *gorm.DB {
	return dm.walletDb
}

func (dm *DatabaseManager) GetSweepDB() *gorm.DB {
	return dm.sweepDb
}

// Close releases the underlying connections
func (dm *DatabaseManager) Close() error {
	for _, gdb := range []*gorm.DB{dm.walletDb, dm.sweepDb} {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.Close(); err != nil {
			return err
		}
	}
	return nil
}
