package service

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"contramind/internal/params/store"
)

// seedFile is the on-disk parameter file format:
//
//	thresholds:
//	  amount_max: "2100"
//	allowlist: [US, CA, GB, DE]
type seedFile struct {
	Thresholds map[string]string `yaml:"thresholds"`
	Allowlist  []string          `yaml:"allowlist"`
}

// LoadSeedFile parses a YAML parameter file. Threshold values are read as
// strings so no precision is lost on the way to decimal.
func LoadSeedFile(path string) (store.Contents, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return store.Contents{}, fmt.Errorf("read parameter file: %w", err)
	}
	return ParseSeed(raw)
}

func ParseSeed(raw []byte) (store.Contents, error) {
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return store.Contents{}, fmt.Errorf("parse parameter file: %w", err)
	}
	thresholds := make(map[string]decimal.Decimal, len(f.Thresholds))
	for key, v := range f.Thresholds {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return store.Contents{}, fmt.Errorf("threshold %s: %w", key, err)
		}
		thresholds[key] = d
	}
	return store.Contents{Thresholds: thresholds, Allowlist: f.Allowlist}, nil
}
