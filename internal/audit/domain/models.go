package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	ActionTransactionCreated  = "transaction.created"
	ActionTransactionUpdated  = "transaction.updated"
	ActionTransactionReversed = "transaction.reversed"
	ActionTransactionDeleted  = "transaction.deleted"
	ActionLedgerRebuilt       = "ledger.rebuilt"

	TargetTransaction = "transaction"
	TargetLedger      = "ledger"
)

// AuditLog is an append-only record of a state change.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	Action     string            `gorm:"type:varchar(64);not null;index" json:"action"`
	TargetType string            `gorm:"type:varchar(32);not null;index:ix_audit_logs_target,priority:1" json:"target_type"`
	TargetID   string            `gorm:"type:varchar(64);not null;default:'';index:ix_audit_logs_target,priority:2" json:"target_id,omitempty"`
	RequestID  string            `gorm:"type:varchar(64);not null;default:''" json:"request_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index" json:"created_at"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }
