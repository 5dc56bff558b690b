package worker

import (
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/generation"
	"github.com/any-hub/offline-hub/internal/precache"
)

// Batch 是一个 family 在当前版本下需要预取的资源集合。
type Batch struct {
	Generation generation.Generation
	Resources  []string
	Options    precache.Options
	Essential  bool
}

// PlanFromConfig 将配置中的 family 转换为批次，顺序与配置一致。
func PlanFromConfig(cfg *config.Config) []Batch {
	if cfg == nil {
		return nil
	}
	batches := make([]Batch, 0, len(cfg.Families))
	for _, f := range cfg.Families {
		batches = append(batches, Batch{
			Generation: cfg.Generation(f),
			Resources:  append([]string(nil), f.Assets...),
			Options: precache.Options{
				CacheBust:   f.CacheBust,
				CrossOrigin: f.CrossOrigin,
			},
			Essential: f.Essential,
		})
	}
	return batches
}

// Generations 返回批次对应的 generation。
func Generations(batches []Batch) []generation.Generation {
	out := make([]generation.Generation, len(batches))
	for i, b := range batches {
		out[i] = b.Generation
	}
	return out
}
