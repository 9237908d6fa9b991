package logging

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, expected := range cases {
		if got := ParseLevel(input); got != expected {
			t.Fatalf("ParseLevel(%q) = %s, want %s", input, got, expected)
		}
	}
}

func TestGormLoggerReportsFailedStatements(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewGormLogger(zap.New(core))

	logger.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "INSERT INTO votes (user_id,book_id) VALUES (?,?)", 0
	}, errors.New("constraint failed"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel || entries[0].Message != "statement failed" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
}

func TestGormLoggerIgnoresRecordNotFound(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewGormLogger(zap.New(core))

	logger.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "SELECT * FROM books WHERE id = ?", 0
	}, gorm.ErrRecordNotFound)

	if logs.Len() != 0 {
		t.Fatalf("expected record-not-found to be silent, got %d entries", logs.Len())
	}
}

func TestGormLoggerSilentMode(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewGormLogger(zap.New(core)).LogMode(gormlogger.Silent)

	logger.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) {
		return "SELECT 1", 1
	}, errors.New("boom"))

	if logs.Len() != 0 {
		t.Fatalf("expected silent logger to drop entries, got %d", logs.Len())
	}
}

func TestGormLoggerDropsBoundValues(t *testing.T) {
	logger := NewGormLogger(zap.NewNop())
	sql, params := logger.ParamsFilter(context.Background(), "SELECT * FROM users WHERE email = ?", "user@example.com")
	if sql != "SELECT * FROM users WHERE email = ?" {
		t.Fatalf("unexpected sql %q", sql)
	}
	if params != nil {
		t.Fatalf("expected params to be dropped, got %v", params)
	}
}
