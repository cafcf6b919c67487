package indexer

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultDSN keeps the index in process memory.
const DefaultDSN = "file::memory:?cache=shared"

// ListingRow is the browsable projection of a listing record.
type ListingRow struct {
	Address   string `gorm:"size:80;primaryKey"`
	Seller    string `gorm:"size:80;index"`
	Asset     string `gorm:"size:80;index"`
	Escrow    string `gorm:"size:80"`
	Price     uint64 `gorm:"not null"`
	Status    string `gorm:"size:16;index"`
	Buyer     string `gorm:"size:80"`
	ListedAt  int64  `gorm:"index"`
	UpdatedAt time.Time
}

// ActivityRow records every lifecycle event applied to a listing.
type ActivityRow struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Listing   string    `gorm:"size:80;index"`
	Type      string    `gorm:"size:64"`
	Actor     string    `gorm:"size:80"`
	Price     uint64
	CreatedAt time.Time
}

// AutoMigrate creates or updates the index tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ListingRow{}, &ActivityRow{})
}

// Open connects to the index database. Postgres URLs and keyword DSNs use the
// postgres driver; anything else is treated as a SQLite DSN.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = DefaultDSN
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	var dialector gorm.Dialector
	if isPostgresDSN(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("indexer: open: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return db, nil
}

func isPostgresDSN(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") ||
		strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=")
}
