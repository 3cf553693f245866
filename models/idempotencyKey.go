package models

import (
	"time"
)

// IdempotencyKey records that a named handler already ran for a given scope
// (a UTC day for the overdue sweep, branch+period for settlement batches).
// The unique index is the arbiter under concurrent runs: the second insert
// fails with a duplicate-key error and that run becomes a no-op.
type IdempotencyKey struct {
	ID          int               `gorm:"primary_key" json:"id"`
	HandlerName string            `gorm:"size:128;not null;uniqueIndex:idx_handler_scope" json:"handler_name"`
	ScopeKey    string            `gorm:"size:255;not null;uniqueIndex:idx_handler_scope" json:"scope_key"`
	Status      IdempotencyStatus `gorm:"size:16;not null;default:'STARTED'" json:"status"`
	LastError   string            `gorm:"type:text;default:null" json:"last_error"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
