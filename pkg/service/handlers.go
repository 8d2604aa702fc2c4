package service

import (
	"context"

	"QuantSync/pkg/collector"
	"QuantSync/pkg/config"
	"QuantSync/pkg/database"
	"QuantSync/pkg/dispatch"
	"QuantSync/pkg/errs"
	"QuantSync/pkg/ingest"
	"QuantSync/pkg/model"
)

// RegisterHandlers 把各同步流程注册为 worker 的任务处理函数
func RegisterHandlers(worker *dispatch.Worker, stores *database.Stores, upstream collector.Upstream, cfg config.IngestConfig) error {
	klines, err := ingest.NewKlinePipeline(stores, upstream, cfg)
	if err != nil {
		return err
	}
	members := ingest.NewMemberPipeline(stores, upstream)
	listing := ingest.NewListingPipeline(stores, upstream, cfg)
	RegisterPipelines(worker, stores, klines, members, listing)
	return nil
}

// RegisterPipelines 注册已构建的同步流程
func RegisterPipelines(worker *dispatch.Worker, stores *database.Stores, klines *ingest.KlinePipeline, members *ingest.MemberPipeline, listing *ingest.ListingPipeline) {
	worker.Register(dispatch.KindKlineDaily, func(ctx context.Context, job dispatch.Job) (dispatch.Result, error) {
		stock, err := stores.Stocks.GetByID(ctx, job.EntityID)
		if err != nil {
			return dispatch.Result{}, err
		}
		if !stock.IsActive() {
			return dispatch.Result{}, nil
		}
		return toResult(klines.Run(ctx, stock))
	})

	memberHandler := func(kind model.CategoryKind) dispatch.Handler {
		return func(ctx context.Context, job dispatch.Job) (dispatch.Result, error) {
			category, err := stores.Categories.GetByCode(ctx, kind, job.EntityCode)
			if err != nil {
				return dispatch.Result{}, err
			}
			return toResult(members.Run(ctx, category))
		}
	}
	worker.Register(dispatch.KindIndustryMembers, memberHandler(model.KindIndustry))
	worker.Register(dispatch.KindConceptMembers, memberHandler(model.KindConcept))

	worker.Register(dispatch.KindStockList, func(ctx context.Context, job dispatch.Job) (dispatch.Result, error) {
		market := model.Market(job.EntityID)
		switch market {
		case model.MarketSH, model.MarketSZ, model.MarketBJ:
		default:
			return dispatch.Result{}, errs.New(errs.CodeUpstreamPermanent, "未知的市场: "+job.EntityCode)
		}
		return toResult(listing.SyncStocks(ctx, market))
	})

	listHandler := func(kind model.CategoryKind) dispatch.Handler {
		return func(ctx context.Context, job dispatch.Job) (dispatch.Result, error) {
			return toResult(listing.SyncCategories(ctx, kind))
		}
	}
	worker.Register(dispatch.KindIndustryList, listHandler(model.KindIndustry))
	worker.Register(dispatch.KindConceptList, listHandler(model.KindConcept))
}

func toResult(out ingest.Outcome, err error) (dispatch.Result, error) {
	return dispatch.Result{Rows: out.Rows, Checkpoint: out.Checkpoint}, err
}
