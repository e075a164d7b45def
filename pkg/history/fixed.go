package history

import (
	"encoding/json"
	"fmt"
	"os"
)

// FixedHistory is a read-only snapshot loaded from a pinned JSON file, substituted for
// the live shard when the `fixed_history` config key is set: the estimator skips
// online learning entirely and always fits against this snapshot.
type FixedHistory struct {
	shards map[string][]float64
}

// LoadFixed reads a pinned history file in the same layout Store persists.
func LoadFixed(path string) (*FixedHistory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("history: read fixed history %s: %w", path, err)
	}

	var records map[string]shardRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("history: decode fixed history %s: %w", path, err)
	}

	shards := make(map[string][]float64, len(records))
	for key, record := range records {
		shards[key] = record.CtHistory
	}

	return &FixedHistory{shards: shards}, nil
}

// Snapshot returns a copy of the pinned (entity, actionKey) shard.
func (f *FixedHistory) Snapshot(entity, actionKey string) []float64 {
	shard := f.shards[shardKey(entity, actionKey)]
	out := make([]float64, len(shard))
	copy(out, shard)

	return out
}
