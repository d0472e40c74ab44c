package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ladder_go/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the shared order registry. The orders unit mirrors its active order set
// here and the supervisor's fill monitor reads it back. It only lives for one run of
// the program: the supervisor resets it on start and clears it on shutdown.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (creating if needed) the SQLite registry at path.
// Paths starting with "file:" are passed through untouched (in-memory databases).
func NewStorage(path string) (*Storage, error) {
	dsn := path
	if !strings.HasPrefix(path, "file:") {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
		// Several processes share the file.
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.OrderRecord{}, &domain.RestartRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Reset wipes both tables. Called once when the supervisor starts.
func (s *Storage) Reset() error {
	if err := s.ClearOrders(); err != nil {
		return err
	}
	return s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&domain.RestartRecord{}).Error
}

// ======================================================================================
// Order Operations
// ======================================================================================

// SaveOrder creates or replaces the entry for the order's ladder slot.
func (s *Storage) SaveOrder(order domain.Order) error {
	rec := domain.OrderRecord{
		LevelKey:  order.LevelKey,
		Handle:    string(order.Handle),
		Side:      string(order.Side),
		Price:     order.Price.String(),
		Size:      order.Size.String(),
		PlacedAt:  order.PlacedAt,
		UpdatedAt: time.Now(),
	}
	return s.db.Save(&rec).Error
}

// ClearOrders removes every tracked order.
func (s *Storage) ClearOrders() error {
	return s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&domain.OrderRecord{}).Error
}

// TrackedOrders returns the orders currently resting, ordered by ladder slot.
func (s *Storage) TrackedOrders() ([]domain.Order, error) {
	var records []domain.OrderRecord
	if err := s.db.Order("level_key").Find(&records).Error; err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(records))
	for _, rec := range records {
		price, err := decimal.NewFromString(rec.Price)
		if err != nil {
			return nil, fmt.Errorf("order %s: bad price %q: %w", rec.LevelKey, rec.Price, err)
		}
		size, err := decimal.NewFromString(rec.Size)
		if err != nil {
			return nil, fmt.Errorf("order %s: bad size %q: %w", rec.LevelKey, rec.Size, err)
		}
		orders = append(orders, domain.Order{
			Handle:   domain.OrderHandle(rec.Handle),
			Price:    price,
			Size:     size,
			Side:     domain.Side(rec.Side),
			LevelKey: rec.LevelKey,
			PlacedAt: rec.PlacedAt,
		})
	}
	return orders, nil
}

// ======================================================================================
// Restart Log
// ======================================================================================

// RecordRestart appends one finished restart cycle.
func (s *Storage) RecordRestart(rec *domain.RestartRecord) error {
	return s.db.Create(rec).Error
}

// Restarts returns the most recent restart cycles, newest first.
func (s *Storage) Restarts(limit int) ([]domain.RestartRecord, error) {
	var records []domain.RestartRecord
	q := s.db.Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&records).Error
	return records, err
}
