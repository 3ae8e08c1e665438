package autotrade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"signal-trader/internal/risk"
	"signal-trader/pkg/db"
)

// ConfigStore keeps each user's AutoTradingConfig as JSON in sqlite.
type ConfigStore struct {
	q *db.ConfigQueries
}

func NewConfigStore(q *db.ConfigQueries) *ConfigStore {
	return &ConfigStore{q: q}
}

func (s *ConfigStore) SaveConfig(ctx context.Context, userID string, cfg risk.AutoTradingConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return s.q.SaveConfig(ctx, userID, string(data))
}

// LoadConfig returns the stored config layered over base. found is false when
// the user has never saved one.
func (s *ConfigStore) LoadConfig(ctx context.Context, userID string, base risk.AutoTradingConfig) (cfg risk.AutoTradingConfig, found bool, err error) {
	raw, err := s.q.LoadConfig(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return base.Clone(), false, nil
	}
	if err != nil {
		return base.Clone(), false, err
	}
	cfg = base.Clone()
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return base.Clone(), false, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return base.Clone(), false, err
	}
	return cfg, true, nil
}

// EnabledUsers lists users whose stored config has auto-trading on. A config
// that no longer decodes is skipped.
func (s *ConfigStore) EnabledUsers(ctx context.Context, base risk.AutoTradingConfig) ([]string, error) {
	ids, err := s.q.ListConfigUsers(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range ids {
		cfg, found, err := s.LoadConfig(ctx, id, base)
		if err != nil || !found {
			continue
		}
		if cfg.Enabled {
			out = append(out, id)
		}
	}
	return out, nil
}
