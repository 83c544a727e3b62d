package models

import "time"

// Event is the pool's event log. ID gives the commit order.
type Event struct {
	ID         uint64 `gorm:"primaryKey"`
	Kind       string `gorm:"size:16;index"`
	Account    string `gorm:"size:128;index"`
	Amount     string `gorm:"type:numeric(78,0);not null;default:0"`
	Cap        string `gorm:"type:numeric(78,0);not null;default:0"`
	RoundIndex uint64 `gorm:"index"`
	Height     int64
	CreatedAt  time.Time
}
