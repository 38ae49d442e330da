package epoch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Halt records why a pool stopped progressing automatically.
type Halt struct {
	PoolID  string    `json:"pool_id"`
	EpochID uint64    `json:"epoch_id"`
	Reason  string    `json:"reason"`
	Since   time.Time `json:"since"`
}

type haltFile struct {
	Halts     map[string]Halt `json:"halts"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HaltRegistry is the set of halted pools, persisted to a JSON file so a
// restart never resumes a pool an operator has not looked at.
type HaltRegistry struct {
	mu       sync.Mutex
	filePath string
	halts    map[string]Halt
}

// LoadHaltRegistry reads the registry from filePath. A missing file yields an
// empty registry; an empty path keeps the registry in memory only.
func LoadHaltRegistry(filePath string) (*HaltRegistry, error) {
	r := &HaltRegistry{filePath: filePath, halts: make(map[string]Halt)}
	if filePath == "" {
		return r, nil
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}
	var f haltFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filePath, err)
	}
	for id, h := range f.Halts {
		r.halts[id] = h
	}
	return r, nil
}

// Halt marks a pool halted. An existing halt keeps its original reason.
func (r *HaltRegistry) Halt(h Halt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.halts[h.PoolID]; ok {
		return nil
	}
	if h.Since.IsZero() {
		h.Since = time.Now()
	}
	r.halts[h.PoolID] = h
	return r.save()
}

// Resume clears a halt and returns what was cleared.
func (r *HaltRegistry) Resume(poolID string) (Halt, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.halts[poolID]
	if !ok {
		return Halt{}, false, nil
	}
	delete(r.halts, poolID)
	return h, true, r.save()
}

func (r *HaltRegistry) Get(poolID string) (Halt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.halts[poolID]
	return h, ok
}

// List returns all halts ordered by pool id.
func (r *HaltRegistry) List() []Halt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Halt, 0, len(r.halts))
	for _, h := range r.halts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PoolID < out[j].PoolID })
	return out
}

func (r *HaltRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.halts)
}

// save writes the registry; the caller holds mu.
func (r *HaltRegistry) save() error {
	if r.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(haltFile{Halts: r.halts, UpdatedAt: time.Now()}, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(r.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(r.filePath, data, 0644)
}
