package service

import (
	"fmt"
	"math"
	"time"

	"corebank/internal/config"

	"github.com/shopspring/decimal"
)

type feeRule struct {
	fixed      int64
	percentage decimal.Decimal
}

type bounds struct {
	min, max int64 // max 0 means no upper bound
}

// Policy is an immutable snapshot of fee tables, amount bounds and daily
// limits. Build it once with NewPolicy and share it freely.
type Policy struct {
	defaults    bounds
	bounds      map[string]bounds
	fees        map[string]map[string]feeRule
	dailyLimits map[string]int64
	location    *time.Location
}

var (
	hundred  = decimal.NewFromInt(100)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
)

func NewPolicy(cfg config.LedgerConfig) (*Policy, error) {
	p := &Policy{
		defaults:    bounds{min: cfg.MinAmount, max: cfg.MaxAmount},
		bounds:      make(map[string]bounds, len(cfg.Bounds)),
		fees:        make(map[string]map[string]feeRule, len(cfg.Fees)),
		dailyLimits: make(map[string]int64, len(cfg.DailyLimits)),
		location:    time.UTC,
	}

	for txType, b := range cfg.Bounds {
		p.bounds[txType] = bounds{min: b.Min, max: b.Max}
	}
	for txType, channels := range cfg.Fees {
		rules := make(map[string]feeRule, len(channels))
		for channel, rule := range channels {
			pct := decimal.Zero
			if rule.Percentage != "" {
				var err error
				pct, err = decimal.NewFromString(rule.Percentage)
				if err != nil {
					return nil, fmt.Errorf("fee %s/%s percentage %q: %w", txType, channel, rule.Percentage, err)
				}
			}
			if rule.Fixed < 0 || pct.IsNegative() {
				return nil, fmt.Errorf("fee %s/%s must not be negative", txType, channel)
			}
			rules[channel] = feeRule{fixed: rule.Fixed, percentage: pct}
		}
		p.fees[txType] = rules
	}
	for accountType, limit := range cfg.DailyLimits {
		p.dailyLimits[accountType] = limit
	}
	if cfg.DailyWindowTZ != "" {
		loc, err := time.LoadLocation(cfg.DailyWindowTZ)
		if err != nil {
			return nil, fmt.Errorf("daily window timezone: %w", err)
		}
		p.location = loc
	}
	return p, nil
}

// ComputeFee returns fixed + amount*percentage/100, rounded half up to the
// minor unit. A (type, channel) pair with no configured rule costs nothing.
func (p *Policy) ComputeFee(amount int64, txType, channel string) int64 {
	rule, ok := p.fees[txType][channel]
	if !ok {
		return 0
	}
	variable := decimal.NewFromInt(amount).Mul(rule.percentage).Div(hundred).Round(0)
	total := variable.Add(decimal.NewFromInt(rule.fixed))
	if total.GreaterThan(maxMinor) {
		return math.MaxInt64
	}
	return total.IntPart()
}

// ValidateAmount checks amount > 0 and the [min, max] bounds for txType,
// falling back to the global bounds.
func (p *Policy) ValidateAmount(amount int64, txType string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrAmountOutOfRange)
	}
	b, ok := p.bounds[txType]
	if !ok {
		b = p.defaults
	}
	if amount < b.min {
		return fmt.Errorf("%w: %d is below minimum %d", ErrAmountOutOfRange, amount, b.min)
	}
	if b.max > 0 && amount > b.max {
		return fmt.Errorf("%w: %d is above maximum %d", ErrAmountOutOfRange, amount, b.max)
	}
	return nil
}

// CheckDailyLimit rejects proposed when spent+proposed would pass the cap for
// accountType. Account types without a cap are unlimited.
func (p *Policy) CheckDailyLimit(accountType string, spent, proposed int64) error {
	limit, ok := p.dailyLimits[accountType]
	if !ok || limit <= 0 {
		return nil
	}
	if spent+proposed > limit {
		return fmt.Errorf("%w: %d spent, %d requested, cap %d", ErrDailyLimitExceeded, spent, proposed, limit)
	}
	return nil
}

func (p *Policy) HasDailyLimit(accountType string) bool {
	return p.dailyLimits[accountType] > 0
}

// WindowStart returns the start of the daily limit window containing now.
func (p *Policy) WindowStart(now time.Time) time.Time {
	local := now.In(p.location)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, p.location)
}
