package memory

import (
	"time"

	"github.com/ubiquity/ubiquity-dollar-sub001/pkg/kv"
)

func init() {
	kv.RegisterBackend(kv.BackendMemory, func(cfg kv.Config) (kv.Store, error) {
		return New(cfg.JanitorInterval), nil
	})
}

// NewStore creates a new in-memory store with the default janitor interval
func NewStore() kv.Store {
	return New(30 * time.Second)
}
