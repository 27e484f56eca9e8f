package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"snap-automation/internal/core"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// lifetimeID is the primary key of the single lifetime row
const lifetimeID = 1

// SQLiteRepository implements core.StatsRepositoryPort using SQLite via GORM
type SQLiteRepository struct {
	db *gorm.DB
}

// NewSQLiteRepository opens (or creates) the database and migrates it.
// ":memory:" gives a throwaway database.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, &core.PersistenceError{Op: "open", What: "statistics", Path: dbPath, Err: err}
		}
	}

	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath), config)
	if err != nil {
		return nil, &core.PersistenceError{Op: "open", What: "statistics", Path: dbPath, Err: err}
	}

	// One connection keeps ":memory:" databases alive and serialises writers
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.Migrate(context.Background()); err != nil {
		_ = repo.Close()
		return nil, &core.PersistenceError{Op: "migrate", What: "statistics", Path: dbPath, Err: err}
	}
	return repo, nil
}

// Migrate runs database migrations
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&core.LifetimeStats{},
		&core.SessionRecord{},
	)
}

// LoadLifetime returns the lifetime row, or a zero row when none is stored
func (r *SQLiteRepository) LoadLifetime(ctx context.Context) (*core.LifetimeStats, error) {
	var lifetime core.LifetimeStats
	result := r.db.WithContext(ctx).First(&lifetime, lifetimeID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return &core.LifetimeStats{ID: lifetimeID}, nil
		}
		return nil, result.Error
	}
	return &lifetime, nil
}

// SaveSession upserts the lifetime row and appends the history entry
func (r *SQLiteRepository) SaveSession(ctx context.Context, lifetime *core.LifetimeStats, record *core.SessionRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if lifetime != nil {
			row := *lifetime
			row.ID = lifetimeID
			row.UpdatedAt = time.Now()
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return err
			}
		}

		if record != nil {
			if record.EndedAt.IsZero() {
				record.EndedAt = time.Now()
			}
			if err := tx.Create(record).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ResetLifetime clears the lifetime row. Session history is kept.
func (r *SQLiteRepository) ResetLifetime(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Where("id = ?", lifetimeID).
		Delete(&core.LifetimeStats{}).Error
}

// RecentSessions returns up to limit history entries, newest first
func (r *SQLiteRepository) RecentSessions(ctx context.Context, limit int) ([]*core.SessionRecord, error) {
	var records []*core.SessionRecord
	query := r.db.WithContext(ctx).Order("started_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// SessionsBetween retrieves history entries started within a date range
func (r *SQLiteRepository) SessionsBetween(ctx context.Context, start, end time.Time) ([]*core.SessionRecord, error) {
	var records []*core.SessionRecord
	result := r.db.WithContext(ctx).
		Where("started_at >= ? AND started_at <= ?", start, end).
		Order("started_at DESC").
		Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}
	return records, nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
