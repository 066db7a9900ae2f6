package models

import "time"

// LedgerEntry is one signed movement on a wallet. Entries are never updated or deleted.
type LedgerEntry struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	WalletID      uint      `gorm:"not null;index" json:"wallet_id"`
	TransactionID uint      `gorm:"not null;index" json:"transaction_id"`
	Amount        int64     `gorm:"not null" json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}
