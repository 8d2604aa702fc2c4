package ingest

import (
	"context"

	"github.com/sirupsen/logrus"

	"QuantSync/pkg/collector"
	"QuantSync/pkg/database"
	"QuantSync/pkg/logger"
	"QuantSync/pkg/model"
	"QuantSync/pkg/normalize"
)

// MemberPipeline 板块成分股同步
type MemberPipeline struct {
	upstream   collector.Upstream
	normalizer *normalize.Normalizer
	stocks     *database.StockDB
	members    *database.MemberDB
	logger     *logrus.Entry
}

func NewMemberPipeline(stores *database.Stores, upstream collector.Upstream) *MemberPipeline {
	return &MemberPipeline{
		upstream:   upstream,
		normalizer: normalize.New(),
		stocks:     stores.Stocks,
		members:    stores.Members,
		logger:     logger.WithComponent("ingest.member"),
	}
}

// Diff 计算新增与移除
func Diff(old, current []uint) (insert, remove []uint) {
	oldSet := make(map[uint]bool, len(old))
	for _, id := range old {
		oldSet[id] = true
	}
	curSet := make(map[uint]bool, len(current))
	for _, id := range current {
		if curSet[id] {
			continue
		}
		curSet[id] = true
		if !oldSet[id] {
			insert = append(insert, id)
		}
	}
	for _, id := range old {
		if !curSet[id] {
			remove = append(remove, id)
		}
	}
	return insert, remove
}

// Run 用上游成分股替换已保存的成分股，未知代码跳过
func (p *MemberPipeline) Run(ctx context.Context, category *model.Category) (Outcome, error) {
	var out Outcome
	log := p.logger.WithFields(logrus.Fields{
		"kind":     category.Kind,
		"category": category.Code,
	})

	raw, err := p.upstream.ListMembers(ctx, category.Kind, category.Code)
	if err != nil {
		return out, err
	}
	codes := p.normalizer.Members(raw)

	ids, err := p.stocks.IDsByCodes(ctx, codes)
	if err != nil {
		return out, err
	}
	current := make([]uint, 0, len(ids))
	var unknown []string
	for _, code := range codes {
		id, ok := ids[code]
		if !ok {
			unknown = append(unknown, code)
			continue
		}
		current = append(current, id)
	}
	if len(unknown) > 0 {
		log.WithField("codes", unknown).Warn("成分股代码不在股票表中，已跳过")
	}

	old, err := p.members.StockIDs(ctx, category.ID)
	if err != nil {
		return out, err
	}
	insert, remove := Diff(old, current)
	if err := p.members.ApplyDiff(ctx, category.ID, insert, remove); err != nil {
		return out, err
	}

	out.Rows = len(insert) + len(remove)
	log.WithFields(logrus.Fields{
		"members":  len(current),
		"inserted": len(insert),
		"removed":  len(remove),
	}).Info("成分股同步完成")
	return out, nil
}
