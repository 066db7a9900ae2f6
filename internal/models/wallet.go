package models

import (
	"time"
)

// Wallet is the balance a user holds in one currency. Balance is in minor units.
type Wallet struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_wallet_user_currency" json:"user_id"`
	Currency  string    `gorm:"size:3;not null;uniqueIndex:idx_wallet_user_currency" json:"currency"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
