// Package kv provides a Redis-like key-value store abstraction with in-memory
// and Redis-backed implementations.
//
// The Store interface covers the subset of Redis the ledger needs: strings
// with optional TTL, hashes, sets and an atomic write batch (Apply).
//
// Example usage:
//
//	store, err := NewStoreFromConfig(Config{Backend: BackendMemory})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	err = store.Apply(ctx,
//		HSetOp("yp:positions", account, encoded),
//		SetOp("yp:config", cfg),
//	)
//
// The in-memory implementation is the development and test backend. The Redis
// adapter wraps go-redis/v9 and maps Apply onto MULTI/EXEC.
package kv
