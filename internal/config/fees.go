package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// FeeSchedule overrides the default conversion fee for specific currency pairs.
//
//	default_bps: 100
//	pairs:
//	  USD/NGN: 150
//	  EUR/USD: 50
type FeeSchedule struct {
	DefaultBps *int64           `yaml:"default_bps"`
	Pairs      map[string]int64 `yaml:"pairs"`
}

// LoadFeeSchedule parses a YAML fee schedule file.
func LoadFeeSchedule(path string) (*FeeSchedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fee schedule: %w", err)
	}
	return ParseFeeSchedule(data)
}

// ParseFeeSchedule parses and validates a YAML fee schedule.
func ParseFeeSchedule(data []byte) (*FeeSchedule, error) {
	var fs FeeSchedule
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("parse fee schedule: %w", err)
	}
	if fs.DefaultBps != nil && !validBps(*fs.DefaultBps) {
		return nil, fmt.Errorf("fee schedule default_bps %d out of range", *fs.DefaultBps)
	}
	normalised := make(map[string]int64, len(fs.Pairs))
	for pair, bps := range fs.Pairs {
		if !validBps(bps) {
			return nil, fmt.Errorf("fee schedule %s: %d bps out of range", pair, bps)
		}
		normalised[strings.ToUpper(pair)] = bps
	}
	fs.Pairs = normalised
	return &fs, nil
}

// Bps returns the fee for converting from -> to, falling back to def.
func (fs *FeeSchedule) Bps(from, to string, def int64) int64 {
	if fs == nil {
		return def
	}
	if bps, ok := fs.Pairs[strings.ToUpper(from+"/"+to)]; ok {
		return bps
	}
	if fs.DefaultBps != nil {
		return *fs.DefaultBps
	}
	return def
}

func validBps(bps int64) bool {
	return bps >= 0 && bps < 10_000
}
