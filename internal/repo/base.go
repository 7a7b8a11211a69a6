// Package repo holds the persistence base the sync action repositories
// build on.
package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base carries the GORM handle repositories embed. Reaching the connection
// through DB keeps request and cron-cycle deadlines flowing into queries.
type Base struct {
	db *gorm.DB
}

// NewBase binds a Base to the given connection.
func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the connection scoped to ctx. A nil ctx yields the raw handle;
// tests that build repositories without a request context rely on that.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}
