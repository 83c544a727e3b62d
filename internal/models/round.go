// Package models defines the database models for the burn pile.
package models

import "time"

// Amounts are stored as numeric(78,0): wide enough for any 256-bit value.

// Round is the aggregate state of one round, keyed by its index.
type Round struct {
	RoundIndex       uint64 `gorm:"primaryKey;autoIncrement:false"`
	TotalContributed string `gorm:"type:numeric(78,0);not null"`
	RefundCap        string `gorm:"type:numeric(78,0);not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Contribution is one user's running total within one round.
type Contribution struct {
	RoundIndex uint64 `gorm:"primaryKey;autoIncrement:false"`
	Account    string `gorm:"primaryKey;size:128;index"`
	Amount     string `gorm:"type:numeric(78,0);not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CapChange is one entry of the append-only refund cap schedule.
type CapChange struct {
	ID        uint   `gorm:"primaryKey"`
	FromRound uint64 `gorm:"index;not null"`
	Cap       string `gorm:"type:numeric(78,0);not null"`
	CreatedAt time.Time
}
