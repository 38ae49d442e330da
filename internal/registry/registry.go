// Package registry loads the set of pools the keeper settles.
package registry

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"EpochKeeper/internal/calculator"
	"EpochKeeper/internal/model"
	"EpochKeeper/internal/solver"
)

// DefaultDustThreshold is used when a pool does not set one, in whole currency units.
const DefaultDustThreshold = "1"

// Source returns the current pool list.
type Source interface {
	Load(ctx context.Context) ([]model.Pool, error)
}

// Entry is the YAML form of a pool.
type Entry struct {
	ID            string                `yaml:"id"`
	Name          string                `yaml:"name"`
	DustThreshold string                `yaml:"dust_threshold"`
	Weights       model.PriorityWeights `yaml:"weights"`
	Disabled      bool                  `yaml:"disabled"`
}

// Pool converts and validates the entry. Non-zero weights must pass the tier gap check.
func (e Entry) Pool(minWeightGap uint64) (model.Pool, error) {
	if e.ID == "" {
		return model.Pool{}, fmt.Errorf("pool without id")
	}
	dust := e.DustThreshold
	if dust == "" {
		dust = DefaultDustThreshold
	}
	threshold, err := calculator.ParseWad(dust)
	if err != nil {
		return model.Pool{}, fmt.Errorf("pool %s: dust_threshold: %w", e.ID, err)
	}
	if !e.Weights.IsZero() {
		if err := solver.ValidateWeights(e.Weights, minWeightGap); err != nil {
			return model.Pool{}, fmt.Errorf("pool %s: %w", e.ID, err)
		}
	}
	return model.Pool{
		ID:            e.ID,
		Name:          e.Name,
		DustThreshold: threshold,
		Weights:       e.Weights,
		Disabled:      e.Disabled,
	}, nil
}

// Build converts entries, rejecting duplicate ids.
func Build(entries []Entry, minWeightGap uint64) ([]model.Pool, error) {
	seen := make(map[string]bool, len(entries))
	pools := make([]model.Pool, 0, len(entries))
	for _, e := range entries {
		p, err := e.Pool(minWeightGap)
		if err != nil {
			return nil, err
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate pool id %s", p.ID)
		}
		seen[p.ID] = true
		pools = append(pools, p)
	}
	return pools, nil
}

// Enabled filters out disabled pools.
func Enabled(pools []model.Pool) []model.Pool {
	out := make([]model.Pool, 0, len(pools))
	for _, p := range pools {
		if !p.Disabled {
			out = append(out, p)
		}
	}
	return out
}

// FileSource reads a YAML file with a top-level pools list on every Load, so
// pools can be added without restarting the keeper.
type FileSource struct {
	Path         string
	MinWeightGap uint64
}

type poolsFile struct {
	Pools []Entry `yaml:"pools"`
}

func (s *FileSource) Load(_ context.Context) ([]model.Pool, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read pools file: %w", err)
	}
	var f poolsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pools file: %w", err)
	}
	return Build(f.Pools, s.MinWeightGap)
}

// StaticSource serves a fixed list, e.g. the pools inlined in the config file.
type StaticSource struct {
	Pools []model.Pool
}

func (s *StaticSource) Load(_ context.Context) ([]model.Pool, error) {
	return append([]model.Pool(nil), s.Pools...), nil
}
