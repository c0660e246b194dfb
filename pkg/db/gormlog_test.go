package db

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/custody-backend/pkg/logger"
)

func TestQueryLoggerReportsFailuresAndSlowQueries(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: &buf, Level: logger.ParseLevel("debug")})
	ql := newQueryLogger(logg, 10*time.Millisecond)
	sqlFn := func() (string, int64) { return "SELECT 1", 1 }

	ql.Trace(context.Background(), time.Now(), sqlFn, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	ql.Trace(context.Background(), time.Now(), sqlFn, errors.New("boom"))
	assert.Contains(t, buf.String(), "query failed")
	buf.Reset()

	ql.Trace(context.Background(), time.Now().Add(-time.Second), sqlFn, nil)
	assert.Contains(t, buf.String(), "slow query")
	assert.Contains(t, buf.String(), `"sql":"SELECT 1"`)
	buf.Reset()

	ql.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now(), sqlFn, errors.New("boom"))
	assert.Empty(t, buf.String())
}

func TestQueryLoggerNilLoggerDiscards(t *testing.T) {
	assert.Equal(t, gormlogger.Discard, newQueryLogger(nil, time.Second))
}

func TestWithTxOptionsReadOnly(t *testing.T) {
	client := NewFromConn(newTestDB(t))
	var count int64
	err := client.WithTxOptions(context.Background(), &sql.TxOptions{ReadOnly: true}, func(tx *gorm.DB) error {
		return tx.Model(&testModel{}).Count(&count).Error
	})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	db := newTestDB(t)
	client := NewFromConn(db)
	assert.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&testModel{Name: "lost"}).Error)
			panic("boom")
		})
	})
	var count int64
	require.NoError(t, db.Model(&testModel{}).Count(&count).Error)
	assert.Zero(t, count)
}
