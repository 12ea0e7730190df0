package ledger

import (
	"time"

	"gorm.io/datatypes"
)

// Position is the locally tracked holding for one strategy/instrument pair.
// A flat position has no row: quantity zero deletes instead of updating.
type Position struct {
	ID            uint      `gorm:"primaryKey"`
	Strategy      string    `gorm:"uniqueIndex:idx_strategy_instrument;size:64;not null"`
	Instrument    string    `gorm:"uniqueIndex:idx_strategy_instrument;size:32;not null"`
	Quantity      float64   `gorm:"not null"`
	AvgEntryPrice float64   `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (Position) TableName() string { return "positions" }

// Order mirrors the broker's order record plus local bookkeeping. OrderID is
// the broker-assigned id and the dedup key for reconciliation inserts.
type Order struct {
	ID             uint   `gorm:"primaryKey"`
	OrderID        string `gorm:"uniqueIndex;size:64;not null"`
	ClientOrderID  string `gorm:"index;size:64"`
	Strategy       string `gorm:"index;size:64"`
	Instrument     string `gorm:"index;size:32;not null"`
	Side           string `gorm:"size:8;not null"`
	Type           string `gorm:"size:16;not null"`
	Quantity       float64
	FilledQuantity float64
	LimitPrice     *float64
	FilledAvgPrice *float64
	Status         string `gorm:"index;size:24;not null"`
	Notes          string
	// Legs carries bracket take-profit/stop-loss parameters when present.
	Legs        datatypes.JSON
	SubmittedAt time.Time `gorm:"index"`
	FilledAt    *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }
