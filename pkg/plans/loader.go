package plans

import (
	"bytes"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk shape of a plan catalog override:
//
//	plans:
//	  monthly:
//	    price: "1099"
//	    duration: {months: 1}
//	    features: {max_users: 6, max_members: 120}
type catalogFile struct {
	Plans map[PlanID]planOverride `yaml:"plans"`
}

type planOverride struct {
	Name     string    `yaml:"name"`
	Price    *string   `yaml:"price"`
	Duration *Duration `yaml:"duration"`
	Features *Features `yaml:"features"`
}

// LoadCatalog reads a YAML override file and applies it on top of the
// built-in table. An empty path returns DefaultCatalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan catalog: %w", err)
	}

	return ParseCatalog(data)
}

// ParseCatalog applies YAML overrides to the built-in table
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse plan catalog: %w", err)
	}

	rows := make([]Plan, len(defaultPlans))
	copy(rows, defaultPlans)

	for id, override := range file.Plans {
		if !id.IsKnown() {
			return nil, fmt.Errorf("unknown plan %q in catalog", id)
		}
		for i := range rows {
			if rows[i].ID != id {
				continue
			}
			if override.Name != "" {
				rows[i].Name = override.Name
			}
			if override.Price != nil {
				price, err := decimal.NewFromString(*override.Price)
				if err != nil {
					return nil, fmt.Errorf("plan %s: invalid price %q: %w", id, *override.Price, err)
				}
				rows[i].Price = price
			}
			if override.Duration != nil {
				rows[i].Duration = *override.Duration
			}
			if override.Features != nil {
				rows[i].Features = *override.Features
			}
		}
	}

	return NewCatalog(rows)
}
