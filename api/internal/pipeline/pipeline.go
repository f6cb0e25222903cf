// Package pipeline assembles the ingest pipeline from service config so the
// API and the Kafka consumer merge records the same way.
package pipeline

import (
	"fmt"

	"berthing-hub/core/ingest"
	"berthing-hub/core/merge"
	"berthing-hub/core/model"
	"berthing-hub/core/source"
	"berthing-hub/core/timenorm"
	"berthing-hub/shared/config"
	"berthing-hub/shared/logx"
)

// Normalizer resolves SOURCE_TZ_OFFSETS keys, which may use either the
// Portuguese or the English category label.
func Normalizer(cfg config.Config) (*timenorm.Normalizer, error) {
	offsets := make(map[model.Category]string, len(cfg.SourceTZOffsets))
	for raw, off := range cfg.SourceTZOffsets {
		cat, ok := model.ParseCategory(raw)
		if !ok {
			return nil, fmt.Errorf("SOURCE_TZ_OFFSETS: %w: %q", source.ErrUnknownSource, raw)
		}
		offsets[cat] = off
	}
	fallback := cfg.DefaultSourceTZOffset
	if fallback == "" {
		fallback = timenorm.DefaultOffset
	}
	return timenorm.NewNormalizer(fallback, offsets)
}

func New(cfg config.Config, store merge.Store, logger logx.Logger) (*ingest.Pipeline, error) {
	norm, err := Normalizer(cfg)
	if err != nil {
		return nil, err
	}
	return ingest.New(merge.NewMerger(store, nil), norm, logger, cfg.IngestWorkers), nil
}
