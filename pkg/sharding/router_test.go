package sharding

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// failingDialect 建表时返回固定错误，模拟并发建表竞争
type failingDialect struct {
	err error
}

func (d failingDialect) CloneTable(context.Context, *gorm.DB, string, string) error {
	return d.err
}

func openTemplateDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "router.db")), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE TABLE quotes (id integer primary key, trade_date datetime)").Error)
	return db
}

func TestEnsureToleratesConcurrentCreate(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"唯一约束冲突视为已建表", fmt.Errorf("clone: %w", gorm.ErrDuplicatedKey), false},
		{"表已存在", errors.New("table quotes_2024 already exists"), false},
		{"其他错误照常返回", errors.New("disk I/O error"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(openTemplateDB(t), Year)
			r.dialect = failingDialect{err: tt.err}

			name, err := r.Ensure(context.Background(), "quotes", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, r.isKnown("quotes_2024"))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "quotes_2024", name)
			assert.True(t, r.isKnown("quotes_2024"))
		})
	}
}
