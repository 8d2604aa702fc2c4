package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"QuantSync/pkg/errs"
	"QuantSync/pkg/model"
	"QuantSync/pkg/monitor"
	"QuantSync/pkg/service"
)

// Handlers API处理程序
type Handlers struct {
	ops     *service.OpsService
	monitor *monitor.Monitor
}

// NewHandlers 创建新的API处理程序
func NewHandlers(ops *service.OpsService, mon *monitor.Monitor) *Handlers {
	return &Handlers{ops: ops, monitor: mon}
}

// HealthCheck 健康检查处理程序
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// ReadinessCheck 依赖组件全部可用时返回 200
func (h *Handlers) ReadinessCheck(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	ready := h.monitor.RunChecks(c.Request.Context())
	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     status,
		"components": h.monitor.GetAllStatus(),
	})
}

// respondError 按错误分类返回状态码
func respondError(c *gin.Context, prefix string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, errs.ErrNormalization):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrDispatch):
		status = http.StatusServiceUnavailable
	}
	body := gin.H{
		"status": "error",
		"error":  prefix + ": " + err.Error(),
	}
	// 部分入队失败时任务集已落库，返回 ID 便于查询进度或取消
	var be *errs.BaseError
	if errors.As(err, &be) {
		if id, ok := be.Context["job_set_id"]; ok {
			body["job_set_id"] = id
		}
	}
	c.JSON(status, body)
}

func respondFanOut(c *gin.Context, message string, result *service.FanOutResult) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": message,
		"data":    result,
	})
}

// SyncKlines 提交全部股票的日K线同步
func (h *Handlers) SyncKlines(c *gin.Context) {
	result, err := h.ops.SyncKlines(c.Request.Context(), authFrom(c))
	if err != nil {
		respondError(c, "提交K线同步任务失败", err)
		return
	}
	respondFanOut(c, "K线同步任务已提交", result)
}

// SyncSingleKline 提交单只股票的日K线同步，股票ID取自表单或查询参数 id
func (h *Handlers) SyncSingleKline(c *gin.Context) {
	raw := c.PostForm("id")
	if raw == "" {
		raw = c.Query("id")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "股票ID无效: " + raw,
		})
		return
	}
	result, err := h.ops.SyncSingleKline(c.Request.Context(), authFrom(c), uint(id))
	if err != nil {
		respondError(c, "提交K线同步任务失败", err)
		return
	}
	respondFanOut(c, "K线同步任务已提交", result)
}

func (h *Handlers) syncRelations(c *gin.Context, kind model.CategoryKind) {
	result, err := h.ops.SyncRelations(c.Request.Context(), authFrom(c), kind)
	if err != nil {
		respondError(c, "提交"+kind.Label()+"成分股同步任务失败", err)
		return
	}
	respondFanOut(c, kind.Label()+"成分股同步任务已提交", result)
}

// SyncIndustryRelations 提交行业成分股同步
func (h *Handlers) SyncIndustryRelations(c *gin.Context) {
	h.syncRelations(c, model.KindIndustry)
}

// SyncConceptRelations 提交概念成分股同步
func (h *Handlers) SyncConceptRelations(c *gin.Context) {
	h.syncRelations(c, model.KindConcept)
}

// SyncStockList 提交股票列表同步
func (h *Handlers) SyncStockList(c *gin.Context) {
	result, err := h.ops.SyncStockList(c.Request.Context(), authFrom(c))
	if err != nil {
		respondError(c, "提交股票列表同步任务失败", err)
		return
	}
	respondFanOut(c, "股票列表同步任务已提交", result)
}

func (h *Handlers) syncCategoryList(c *gin.Context, kind model.CategoryKind) {
	result, err := h.ops.SyncCategoryList(c.Request.Context(), authFrom(c), kind)
	if err != nil {
		respondError(c, "提交"+kind.Label()+"列表同步任务失败", err)
		return
	}
	respondFanOut(c, kind.Label()+"列表同步任务已提交", result)
}

func (h *Handlers) SyncIndustryList(c *gin.Context) {
	h.syncCategoryList(c, model.KindIndustry)
}

func (h *Handlers) SyncConceptList(c *gin.Context) {
	h.syncCategoryList(c, model.KindConcept)
}

// JobProgress 任务集进度
func (h *Handlers) JobProgress(c *gin.Context) {
	progress, err := h.ops.Progress(c.Request.Context(), authFrom(c), c.Param("job_set_id"))
	if err != nil {
		respondError(c, "获取任务进度失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   progress,
	})
}

// JobRecords 任务明细，可按 state 过滤
func (h *Handlers) JobRecords(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := h.ops.Jobs(c.Request.Context(), authFrom(c), c.Param("job_set_id"), model.JobState(c.Query("state")), limit)
	if err != nil {
		respondError(c, "获取任务明细失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   records,
	})
}

// CancelJobs 取消任务集
func (h *Handlers) CancelJobs(c *gin.Context) {
	n, err := h.ops.Cancel(c.Request.Context(), authFrom(c), c.Param("job_set_id"))
	if err != nil {
		respondError(c, "取消任务失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "任务集已取消",
		"data": gin.H{
			"job_set_id": c.Param("job_set_id"),
			"cancelled":  n,
		},
	})
}

// GetKlines 查询K线，日期格式 2006-01-02，默认最近一年
func (h *Handlers) GetKlines(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "code参数不能为空",
		})
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(-1, 0, 0)
	var err error
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse("2006-01-02", v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "to参数格式错误"})
			return
		}
	}
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse("2006-01-02", v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "from参数格式错误"})
			return
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	klines, err := h.ops.Klines(c.Request.Context(), authFrom(c), service.KlineQuery{
		Code:  code,
		From:  from,
		To:    to,
		Limit: limit,
		Desc:  c.Query("order") == "desc",
	})
	if err != nil {
		respondError(c, "查询K线失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   klines,
	})
}

// GetStock 股票详情
func (h *Handlers) GetStock(c *gin.Context) {
	stock, err := h.ops.Stock(c.Request.Context(), authFrom(c), c.Param("code"))
	if err != nil {
		respondError(c, "获取股票信息失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   stock,
	})
}
