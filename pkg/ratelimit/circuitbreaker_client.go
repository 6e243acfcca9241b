package ratelimit

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

type Rule struct {
	// Half-Open 状态允许通过的探测请求数
	MaxRequests uint32

	// Closed 状态计数窗口
	Interval time.Duration

	// Rolling window 每个 bucket 周期（>0 启用 rolling window）
	BucketPeriod time.Duration

	// Open 状态持续时间，到期进入 Half-Open
	Timeout time.Duration

	// 触发熔断条件（两种之一即可）
	TripConsecutiveFailures uint32
	TripFailureRate         float64
	TripMinRequests         uint32
}

// Manager 按名字（RPC 方法）懒创建熔断器
type Manager struct {
	mu sync.RWMutex
	m  map[string]*gobreaker.CircuitBreaker[any]

	defaultRule  Rule
	rules        map[string]Rule
	isSuccessful func(err error) bool
	onState      func(name string, from, to gobreaker.State)
}

type Option func(*Manager)

// WithIsSuccessful 决定哪些错误不计入熔断失败（比如“交易不存在”是正常业务结果）
func WithIsSuccessful(fn func(err error) bool) Option {
	return func(m *Manager) { m.isSuccessful = fn }
}

// WithStateChange 状态切换回调，用来打点
func WithStateChange(fn func(name string, from, to gobreaker.State)) Option {
	return func(m *Manager) { m.onState = fn }
}

func NewManager(defaultRule Rule, perName map[string]Rule, opts ...Option) *Manager {
	if defaultRule.MaxRequests == 0 {
		defaultRule.MaxRequests = 5
	}
	if defaultRule.Timeout <= 0 {
		defaultRule.Timeout = 3 * time.Second
	}
	if defaultRule.Interval <= 0 {
		defaultRule.Interval = 10 * time.Second
	}
	if defaultRule.TripConsecutiveFailures == 0 && defaultRule.TripFailureRate == 0 {
		defaultRule.TripConsecutiveFailures = 10
	}
	if defaultRule.TripMinRequests == 0 {
		defaultRule.TripMinRequests = 20
	}

	m := &Manager{
		m:            make(map[string]*gobreaker.CircuitBreaker[any], 16),
		defaultRule:  defaultRule,
		rules:        perName,
		isSuccessful: func(err error) bool { return err == nil },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Get(name string) *gobreaker.CircuitBreaker[any] {
	// 快路径：读锁
	m.mu.RLock()
	cb := m.m[name]
	m.mu.RUnlock()
	if cb != nil {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb = m.m[name]; cb != nil {
		return cb
	}

	rule, ok := m.rules[name]
	if !ok {
		rule = m.defaultRule
	}
	st := gobreaker.Settings{
		Name:         name,
		MaxRequests:  rule.MaxRequests,
		Interval:     rule.Interval,
		BucketPeriod: rule.BucketPeriod,
		Timeout:      rule.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if rule.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= rule.TripConsecutiveFailures {
				return true
			}
			if rule.TripFailureRate > 0 && c.Requests >= rule.TripMinRequests {
				return float64(c.TotalFailures)/float64(c.Requests) >= rule.TripFailureRate
			}
			return false
		},
		IsSuccessful:  m.isSuccessful,
		OnStateChange: m.onState,
	}

	cb = gobreaker.NewCircuitBreaker[any](st)
	m.m[name] = cb
	return cb
}

// Execute 在 name 对应的熔断器里执行 fn
func Execute[T any](m *Manager, name string, fn func() (T, error)) (T, error) {
	out, err := m.Get(name).Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if v, ok := out.(T); ok {
			return v, err
		}
		return zero, err
	}
	return out.(T), nil
}

// IsRejected 熔断器拒绝（Open / Half-Open 超额）
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
