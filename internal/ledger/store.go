package ledger

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"talon/internal/logger"
)

// Store owns the ledger database. Positions and orders live in one SQLite
// file so a reconcile pass sees a single consistent view.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the ledger at path. WAL mode plus a busy
// timeout lets the scheduler tasks and foreground transactions share the
// file without SQLITE_BUSY churn.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ledger: create dir %s: %w", dir, err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Position{}, &Order{}); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("ledger: underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(2)

	logger.Infof("ledger: opened %s", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
