package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestGormLoggerLogsErrorsWithoutParams(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewGormLogger(zap.New(core), gormlogger.Warn, time.Second)

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "UPDATE subscriptions SET remaining_hours = ? WHERE id = ?", 0
	}, errors.New("boom"))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zap.ErrorLevel, entry.Level)
	assert.Equal(t, "UPDATE", entry.ContextMap()["operation"])
}

func TestGormLoggerIgnoresNotFound(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewGormLogger(zap.New(core), gormlogger.Warn, time.Second)

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "SELECT * FROM plans", 0
	}, gormlogger.ErrRecordNotFound)

	assert.Equal(t, 0, logs.Len())
}

func TestStatementKind(t *testing.T) {
	assert.Equal(t, "SELECT", statementKind("  (select 1)"))
	assert.Equal(t, "INSERT", statementKind("INSERT INTO demands (id) VALUES (?)"))
	assert.Equal(t, "UNKNOWN", statementKind("BEGIN"))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("chatty")
	assert.Error(t, err)
}
