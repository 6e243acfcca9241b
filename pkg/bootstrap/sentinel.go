package bootstrap

import (
	"fmt"
	"strings"

	sentinels "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/circuitbreaker"
	"github.com/alibaba/sentinel-golang/core/flow"
)

// SentinelCfg holds rules for governance.
type SentinelCfg struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Flow    FlowSection   `yaml:"flow" mapstructure:"flow"`
	Breaker BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

type FlowSection struct {
	Enabled bool       `yaml:"enabled" mapstructure:"enabled"`
	Rules   []FlowRule `yaml:"rules" mapstructure:"rules"`
}

type FlowRule struct {
	Resource         string  `yaml:"resource" mapstructure:"resource"`
	Threshold        float64 `yaml:"threshold" mapstructure:"threshold"`
	StatIntervalMs   uint32  `yaml:"stat_interval_ms" mapstructure:"stat_interval_ms"`
	Strategy         string  `yaml:"strategy" mapstructure:"strategy"`
	Control          string  `yaml:"control" mapstructure:"control"`
	MaxQueueWaitMs   uint32  `yaml:"max_queue_wait_ms" mapstructure:"max_queue_wait_ms"`
	WarmUpSec        uint32  `yaml:"warmup_sec" mapstructure:"warmup_sec"`
	WarmUpColdFactor uint32  `yaml:"warmup_cold_factor" mapstructure:"warmup_cold_factor"`
}

type BreakerConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Rules   []BreakerRule `yaml:"rules" mapstructure:"rules"`
}

type BreakerRule struct {
	Resource         string  `yaml:"resource" mapstructure:"resource"`
	Strategy         string  `yaml:"strategy" mapstructure:"strategy"`
	Threshold        float64 `yaml:"threshold" mapstructure:"threshold"`
	StatIntervalMs   uint32  `yaml:"stat_interval_ms" mapstructure:"stat_interval_ms"`
	MinRequestAmount uint64  `yaml:"min_request_amount" mapstructure:"min_request_amount"`
	RetryTimeoutMs   uint64  `yaml:"retry_timeout_ms" mapstructure:"retry_timeout_ms"`
}

// InitSentinel 初始化 sentinel 并加载流控 / 熔断规则；未启用时什么都不做
func InitSentinel(sc *SentinelCfg) error {
	if sc == nil || !(sc.Enabled || sc.Flow.Enabled || sc.Breaker.Enabled) {
		return nil
	}
	if err := sentinels.InitDefault(); err != nil {
		return fmt.Errorf("init sentinel: %w", err)
	}

	if flowRules := FlowRules(sc); len(flowRules) > 0 {
		if _, err := flow.LoadRules(flowRules); err != nil {
			return fmt.Errorf("load flow rules: %w", err)
		}
	}
	if breakerRules := BreakerRules(sc); len(breakerRules) > 0 {
		if _, err := circuitbreaker.LoadRules(breakerRules); err != nil {
			return fmt.Errorf("load circuit breaker rules: %w", err)
		}
	}
	return nil
}

// FlowRules 把配置转换成 sentinel 流控规则，resource 为空的跳过
func FlowRules(sc *SentinelCfg) []*flow.Rule {
	if sc == nil || !sc.Flow.Enabled {
		return nil
	}
	var out []*flow.Rule
	for _, rule := range sc.Flow.Rules {
		if rule.Resource == "" {
			continue
		}
		r := &flow.Rule{
			Resource:         rule.Resource,
			Threshold:        rule.Threshold,
			StatIntervalInMs: rule.StatIntervalMs,
		}
		switch strings.ToLower(rule.Strategy) {
		case "warmup":
			r.TokenCalculateStrategy = flow.WarmUp
			r.WarmUpPeriodSec = rule.WarmUpSec
			r.WarmUpColdFactor = rule.WarmUpColdFactor
		case "memory_adaptive":
			r.TokenCalculateStrategy = flow.MemoryAdaptive
		default:
			r.TokenCalculateStrategy = flow.Direct
		}

		switch strings.ToLower(rule.Control) {
		case "throttling":
			r.ControlBehavior = flow.Throttling
			r.MaxQueueingTimeMs = rule.MaxQueueWaitMs
		default:
			r.ControlBehavior = flow.Reject
		}
		out = append(out, r)
	}
	return out
}

// BreakerRules 把配置转换成 sentinel 熔断规则
func BreakerRules(sc *SentinelCfg) []*circuitbreaker.Rule {
	if sc == nil || !sc.Breaker.Enabled {
		return nil
	}
	var out []*circuitbreaker.Rule
	for _, rule := range sc.Breaker.Rules {
		if rule.Resource == "" {
			continue
		}
		r := &circuitbreaker.Rule{
			Resource:         rule.Resource,
			Threshold:        rule.Threshold,
			StatIntervalMs:   rule.StatIntervalMs,
			MinRequestAmount: rule.MinRequestAmount,
			RetryTimeoutMs:   uint32(rule.RetryTimeoutMs),
		}
		switch strings.ToLower(rule.Strategy) {
		case "error_count":
			r.Strategy = circuitbreaker.ErrorCount
		case "slow_request_ratio":
			r.Strategy = circuitbreaker.SlowRequestRatio
		default:
			r.Strategy = circuitbreaker.ErrorRatio
		}
		out = append(out, r)
	}
	return out
}
