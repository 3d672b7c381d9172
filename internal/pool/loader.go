package pool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Loader loads pool definitions from YAML files
type Loader struct {
	catalogDir string
	validate   *validator.Validate
}

// NewLoader creates a new pool loader
func NewLoader(catalogDir string) *Loader {
	return &Loader{
		catalogDir: catalogDir,
		validate:   validator.New(),
	}
}

// Load loads a single pool definition by name
func (l *Loader) Load(name string) (*Pool, error) {
	filename := filepath.Join(l.catalogDir, name+".yaml")

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read pool file %s: %w", filename, err)
	}

	var pool Pool
	if err := yaml.Unmarshal(data, &pool); err != nil {
		return nil, fmt.Errorf("parse pool YAML %s: %w", filename, err)
	}

	if err := l.Validate(&pool); err != nil {
		return nil, fmt.Errorf("validate pool %s: %w", name, err)
	}

	return &pool, nil
}

// LoadAll loads all pool definitions from the catalog directory
func (l *Loader) LoadAll() ([]*Pool, error) {
	entries, err := os.ReadDir(l.catalogDir)
	if err != nil {
		return nil, fmt.Errorf("read catalog directory: %w", err)
	}

	pools := []*Pool{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if !strings.HasSuffix(entry.Name(), ".yaml") && !strings.HasSuffix(entry.Name(), ".yml") {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".yaml")
		name = strings.TrimSuffix(name, ".yml")

		pool, err := l.Load(name)
		if err != nil {
			return nil, fmt.Errorf("load pool %s: %w", name, err)
		}

		pools = append(pools, pool)
	}

	if len(pools) == 0 {
		return nil, fmt.Errorf("no pools found in %s", l.catalogDir)
	}

	return pools, nil
}

// Validate validates a pool definition against the schema
func (l *Loader) Validate(pool *Pool) error {
	if err := l.validate.Struct(pool); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	// Additional custom validations

	// 1. Stable price must parse and be positive
	price, err := decimal.NewFromString(pool.Pricing.StableHourly)
	if err != nil {
		return fmt.Errorf("stable price %q is not a valid decimal: %w", pool.Pricing.StableHourly, err)
	}
	if !price.IsPositive() {
		return fmt.Errorf("stable price must be positive, got %s", price)
	}

	// 2. Zone must belong to the configured region
	if !strings.HasPrefix(pool.Zone, pool.Region) {
		return fmt.Errorf("zone %s does not belong to region %s", pool.Zone, pool.Region)
	}

	return nil
}
