package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"QuantSync/pkg/config"
	"QuantSync/pkg/errs"
	"QuantSync/pkg/logger"
	"QuantSync/pkg/model"
	"QuantSync/pkg/normalize"
)

// HTTPError AKTools 返回的非 2xx 响应
type HTTPError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("AKTools接口 %s 返回状态码 %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Temporary 限流与服务端错误可重试
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// AKShareAdapter 通过 AKTools HTTP 服务访问 AKShare
type AKShareAdapter struct {
	baseURL     string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
	minInterval time.Duration

	mu          sync.Mutex
	lastRequest time.Time

	logger *logrus.Entry
}

// NewAKShareAdapter 创建新的AKShare数据适配器
func NewAKShareAdapter(cfg config.AKShareConfig) *AKShareAdapter {
	log := logger.WithComponent("akshare")
	settings := gobreaker.Settings{
		Name:        "akshare",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.Breaker.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.Breaker.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("熔断器状态变化")
		},
		// 参数错误不计入熔断
		IsSuccessful: func(err error) bool {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) {
				return !httpErr.Temporary()
			}
			return err == nil
		},
	}

	return &AKShareAdapter{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		breaker:     gobreaker.NewCircuitBreaker(settings),
		minInterval: cfg.MinInterval,
		logger:      log,
	}
}

// ListStocks 获取某个市场的A股实时行情列表
func (a *AKShareAdapter) ListStocks(ctx context.Context, market model.Market) ([]normalize.Row, error) {
	var endpoint string
	switch market {
	case model.MarketSH:
		endpoint = "stock_sh_a_spot_em"
	case model.MarketSZ:
		endpoint = "stock_sz_a_spot_em"
	case model.MarketBJ:
		endpoint = "stock_bj_a_spot_em"
	default:
		return nil, errs.New(errs.CodeUpstreamPermanent, fmt.Sprintf("不支持的市场类型: %d", market))
	}
	return a.get(ctx, endpoint, nil)
}

// ListCategories 获取行业或概念板块列表
func (a *AKShareAdapter) ListCategories(ctx context.Context, kind model.CategoryKind) ([]normalize.Row, error) {
	return a.get(ctx, fmt.Sprintf("stock_board_%s_name_em", kind), nil)
}

// ListMembers 获取板块成分股
func (a *AKShareAdapter) ListMembers(ctx context.Context, kind model.CategoryKind, categoryCode string) ([]normalize.Row, error) {
	params := url.Values{}
	params.Set("symbol", categoryCode)
	return a.get(ctx, fmt.Sprintf("stock_board_%s_cons_em", kind), params)
}

// FetchKlines 获取闭区间 [from, to] 的历史K线
func (a *AKShareAdapter) FetchKlines(ctx context.Context, stockCode string, from, to time.Time, period Period, adjust Adjust) ([]normalize.Row, error) {
	params := url.Values{}
	params.Set("symbol", stockCode)
	params.Set("period", string(period))
	params.Set("start_date", from.Format("20060102"))
	params.Set("end_date", to.Format("20060102"))
	params.Set("adjust", string(adjust))
	return a.get(ctx, "stock_zh_a_hist", params)
}

// throttle 控制请求间隔，避免触发上游限流
func (a *AKShareAdapter) throttle(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if wait := a.minInterval - time.Since(a.lastRequest); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	a.lastRequest = time.Now()
	return nil
}

func (a *AKShareAdapter) get(ctx context.Context, endpoint string, params url.Values) ([]normalize.Row, error) {
	if err := a.throttle(ctx); err != nil {
		return nil, err
	}

	apiURL := fmt.Sprintf("%s/api/public/%s", a.baseURL, endpoint)
	if len(params) > 0 {
		apiURL += "?" + params.Encode()
	}

	start := time.Now()
	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.do(ctx, endpoint, apiURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errs.Wrap(errs.CodeUpstreamTransient, "上游熔断中", err)
		}
		return nil, err
	}

	rows := result.([]normalize.Row)
	a.logger.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"rows":     len(rows),
		"elapsed":  time.Since(start).String(),
	}).Debug("上游请求完成")
	return rows, nil
}

func (a *AKShareAdapter) do(ctx context.Context, endpoint, apiURL string) ([]normalize.Row, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.CodeUpstreamPermanent, "构建请求失败", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.CodeUpstreamTransient, "请求AKTools失败", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.CodeUpstreamTransient, "读取响应失败", err)
	}

	if resp.StatusCode != http.StatusOK {
		httpErr := &HTTPError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: errs.Truncate(string(body), 200)}
		if httpErr.Temporary() {
			return nil, errs.Wrap(errs.CodeUpstreamTransient, "上游服务暂不可用", httpErr)
		}
		return nil, errs.Wrap(errs.CodeUpstreamPermanent, "上游拒绝请求", httpErr)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var rows []normalize.Row
	if err := dec.Decode(&rows); err != nil {
		return nil, errs.Wrap(errs.CodeUpstreamTransient, "解析JSON失败", err)
	}
	return rows, nil
}
