package models

import "time"

// Account holds a user's claim pointer.
type Account struct {
	Account          string `gorm:"primaryKey;size:128"`
	LastClaimedRound int64  `gorm:"not null"`
	UpdatedAt        time.Time
}

// Balance is a token balance on the built-in ledger.
type Balance struct {
	Account   string `gorm:"primaryKey;size:128"`
	Amount    string `gorm:"type:numeric(78,0);not null"`
	UpdatedAt time.Time
}

// Pool is a single-row table pinning the start height.
type Pool struct {
	ID          uint  `gorm:"primaryKey"`
	StartHeight int64 `gorm:"not null"`
	CreatedAt   time.Time
}
