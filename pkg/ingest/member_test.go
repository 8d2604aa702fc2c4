package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantSync/pkg/model"
	"QuantSync/pkg/normalize"
	"QuantSync/pkg/testkit"
)

func TestDiff(t *testing.T) {
	cases := []struct {
		name           string
		old, current   []uint
		insert, remove []uint
	}{
		{"首次同步", nil, []uint{1, 2}, []uint{1, 2}, nil},
		{"无变化", []uint{1, 2}, []uint{2, 1}, nil, nil},
		{"增减", []uint{1, 2}, []uint{2, 3}, []uint{3}, []uint{1}},
		{"全部移除", []uint{1, 2}, nil, nil, []uint{1, 2}},
		{"重复代码", nil, []uint{3, 3}, []uint{3}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			insert, remove := Diff(tc.old, tc.current)
			assert.Equal(t, tc.insert, insert)
			assert.Equal(t, tc.remove, remove)
		})
	}
}

func TestMemberSync(t *testing.T) {
	stores := testkit.NewStores(t)
	up := testkit.NewFakeUpstream()
	ctx := context.Background()

	s1 := seedStock(t, stores, "000001")
	s2 := seedStock(t, stores, "000002")
	s3 := seedStock(t, stores, "000003")

	up.Categories[model.KindIndustry] = []normalize.Row{testkit.CategoryRow("BK0475", "银行")}
	_, err := NewListingPipeline(stores, up, ingestConfig()).WithClock(at("2024-01-16")).SyncCategories(ctx, model.KindIndustry)
	require.NoError(t, err)
	category, err := stores.Categories.GetByCode(ctx, model.KindIndustry, "BK0475")
	require.NoError(t, err)

	p := NewMemberPipeline(stores, up)

	up.Members["BK0475"] = testkit.MemberRows("000001", "000002")
	out, err := p.Run(ctx, category)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Rows)

	// 成分股变化，未知代码跳过
	up.Members["BK0475"] = testkit.MemberRows("000002", "000003", "999999")
	out, err = p.Run(ctx, category)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Rows)

	ids, err := stores.Members.StockIDs(ctx, category.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{s2.ID, s3.ID}, ids)

	cats, err := stores.Members.CategoryIDs(ctx, s1.ID)
	require.NoError(t, err)
	assert.Empty(t, cats)

	// 再次同步无变化
	out, err = p.Run(ctx, category)
	require.NoError(t, err)
	assert.Zero(t, out.Rows)
}

func TestMemberSyncUpstreamError(t *testing.T) {
	stores := testkit.NewStores(t)
	up := testkit.NewFakeUpstream()
	ctx := context.Background()
	seedStock(t, stores, "000001")

	cat := &model.Category{Kind: model.KindConcept, Code: "BK1000", Name: "算力", Status: model.StatusActive}
	require.NoError(t, stores.DB.Create(cat).Error)
	require.NoError(t, stores.Members.ApplyDiff(ctx, cat.ID, []uint{1}, nil))

	up.MemberErrors["BK1000"] = []error{assert.AnError}
	_, err := NewMemberPipeline(stores, up).Run(ctx, cat)
	require.Error(t, err)

	// 失败时保留原有成分股
	ids, err := stores.Members.StockIDs(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, ids)
}
