package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantSync/pkg/model"
	"QuantSync/pkg/testkit"
)

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func TestCategoryLogs(t *testing.T) {
	stores := testkit.NewStores(t)
	ctx := context.Background()

	cat := model.Category{Kind: model.KindIndustry, Code: "BK0475", Name: "银行", Status: 1}
	require.NoError(t, stores.DB.Create(&cat).Error)

	logs := []model.CategoryLog{
		{CategoryID: cat.ID, RecordDate: day("2024-03-01"), Code: cat.Code, Name: "银行"},
		{CategoryID: cat.ID, RecordDate: day("2024-03-04"), Code: cat.Code, Name: "银行"},
	}
	n, err := stores.Categories.SaveLogs(ctx, logs)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// 同一天重复写入被忽略
	n, err = stores.Categories.SaveLogs(ctx, []model.CategoryLog{
		{CategoryID: cat.ID, RecordDate: day("2024-03-04"), Code: cat.Code, Name: "银行(改)"},
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := stores.Categories.ListLogs(ctx, cat.ID, day("2024-01-01"), day("2024-12-31"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "银行", got[1].Name)

	n, err = stores.Categories.DeleteLogsBefore(ctx, day("2024-03-02"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = stores.Categories.DeleteLogs(ctx, []uint{got[1].ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = stores.Categories.DeleteLogs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApplyDiff(t *testing.T) {
	stores := testkit.NewStores(t)
	ctx := context.Background()

	require.NoError(t, stores.Members.ApplyDiff(ctx, 1, []uint{10, 11, 12}, nil))
	require.NoError(t, stores.Members.ApplyDiff(ctx, 1, []uint{12, 13}, []uint{10}))

	ids, err := stores.Members.StockIDs(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{11, 12, 13}, ids)

	cats, err := stores.Members.CategoryIDs(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, cats)

	require.NoError(t, stores.Members.ApplyDiff(ctx, 1, nil, nil))
}
