// Package repo holds the pieces shared by the gorm-backed repositories.
package repo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Base is embedded by every repository. It is bound either to the pool or to
// one transaction; WithTx implementations rebuild it around the tx.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB binds ctx to the connection. A nil ctx returns the raw handle.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Dialect names the driver, e.g. "postgres" or "sqlite".
func (b Base) Dialect() string {
	if b.db == nil || b.db.Dialector == nil {
		return ""
	}
	return b.db.Dialector.Name()
}

// SetLockTimeout bounds row lock waits for the rest of the current
// transaction. Outside postgres, or with a zero timeout, it does nothing.
func (b Base) SetLockTimeout(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 || b.Dialect() != "postgres" {
		return nil
	}
	return b.DB(ctx).Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())).Error
}
