package pool

import "github.com/shopspring/decimal"

// Pool represents a capacity pool loaded from YAML. A pool is the unit
// pricing and placement decisions operate on: one provider zone plus one
// instance shape.
type Pool struct {
	Name             string         `yaml:"name" validate:"required"`
	DisplayName      string         `yaml:"displayName" validate:"required"`
	Provider         string         `yaml:"provider" validate:"required,oneof=aws"`
	Region           string         `yaml:"region" validate:"required"`
	Zone             string         `yaml:"zone" validate:"required"`
	InstanceType     string         `yaml:"instanceType" validate:"required"`
	Enabled          bool           `yaml:"enabled"`
	Pricing          PricingConfig  `yaml:"pricing" validate:"required"`
	Risk             RiskConfig     `yaml:"risk" validate:"required"`
	Launch           LaunchConfig   `yaml:"launch"`
}

// PricingConfig holds the published on-demand rate for the pool. The
// discounted rate is observed from market samples, never configured.
type PricingConfig struct {
	StableHourly string `yaml:"stableHourly" validate:"required"`
	Currency     string `yaml:"currency" validate:"required,oneof=USD"`
}

// RiskConfig ranks a pool for emergency placement. Lower fallbackRank
// means the pool is preferred when capacity must be found quickly.
type RiskConfig struct {
	InterruptionRisk float64 `yaml:"interruptionRisk" validate:"min=0,max=1"`
	FallbackRank     int     `yaml:"fallbackRank" validate:"min=0"`
}

// LaunchConfig holds per-pool launch parameters passed to the provider.
type LaunchConfig struct {
	ImageID         string `yaml:"imageId"`
	SubnetID        string `yaml:"subnetId"`
	SecurityGroupID string `yaml:"securityGroupId"`
}

// StablePrice returns the configured on-demand hourly rate.
func (p *Pool) StablePrice() (decimal.Decimal, error) {
	return decimal.NewFromString(p.Pricing.StableHourly)
}
