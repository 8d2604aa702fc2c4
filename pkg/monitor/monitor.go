package monitor

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"QuantSync/pkg/logger"
)

// 组件状态
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus 健康状态
type HealthStatus struct {
	Component   string    `json:"component"`
	Status      string    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
	Message     string    `json:"message,omitempty"`
}

// Check 组件检查函数，返回 nil 表示健康
type Check func(ctx context.Context) error

// Monitor 组件健康检查
type Monitor struct {
	components map[string]*HealthStatus
	checks     map[string]Check
	mutex      sync.RWMutex
	alertFunc  func(component, status, message string)
	logger     *logrus.Entry
}

// NewMonitor 创建新的监控系统，alertFunc 为空时只记录日志
func NewMonitor(alertFunc func(component, status, message string)) *Monitor {
	m := &Monitor{
		components: make(map[string]*HealthStatus),
		checks:     make(map[string]Check),
		alertFunc:  alertFunc,
		logger:     logger.WithComponent("monitor"),
	}
	if m.alertFunc == nil {
		m.alertFunc = func(component, status, message string) {
			m.logger.WithFields(logrus.Fields{
				"target": component,
				"status": status,
			}).Warn("组件状态异常: " + message)
		}
	}
	return m
}

// Register 注册组件及其检查函数
func (m *Monitor) Register(component string, check Check) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.checks[component] = check
	m.components[component] = &HealthStatus{
		Component:   component,
		Status:      StatusUnknown,
		LastChecked: time.Now(),
	}
}

// UpdateStatus 更新组件状态
func (m *Monitor) UpdateStatus(component, status, message string) {
	m.mutex.Lock()
	if _, exists := m.components[component]; !exists {
		m.components[component] = &HealthStatus{
			Component: component,
		}
	}

	oldStatus := m.components[component].Status
	m.components[component].Status = status
	m.components[component].LastChecked = time.Now()
	m.components[component].Message = message
	m.mutex.Unlock()

	// 如果状态变为不健康，触发告警
	if oldStatus != status && status != StatusHealthy {
		m.alertFunc(component, status, message)
	}
}

// GetStatus 获取组件状态
func (m *Monitor) GetStatus(component string) *HealthStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if status, exists := m.components[component]; exists {
		s := *status
		return &s
	}
	return nil
}

// GetAllStatus 获取所有组件状态，按名称排序
func (m *Monitor) GetAllStatus() []HealthStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	statuses := make([]HealthStatus, 0, len(m.components))
	for _, status := range m.components {
		statuses = append(statuses, *status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Component < statuses[j].Component
	})
	return statuses
}

// RunChecks 执行全部检查，全部健康时返回 true
func (m *Monitor) RunChecks(ctx context.Context) bool {
	m.mutex.RLock()
	checks := make(map[string]Check, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mutex.RUnlock()

	healthy := true
	for name, check := range checks {
		if err := check(ctx); err != nil {
			healthy = false
			m.UpdateStatus(name, StatusUnhealthy, err.Error())
			continue
		}
		m.UpdateStatus(name, StatusHealthy, "")
	}
	return healthy
}

// HTTPCheck 检查HTTP端点，非200视为异常
func HTTPCheck(url string, timeout time.Duration) Check {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("HTTP请求失败: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("HTTP状态码非200: %d", resp.StatusCode)
		}
		return nil
	}
}

// StartChecking 开始定期检查，ctx 结束后停止
func (m *Monitor) StartChecking(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RunChecks(ctx)
			}
		}
	}()
}
