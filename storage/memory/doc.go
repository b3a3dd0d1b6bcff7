// Package memory provides an in-memory implementation of every storage interface.
//
// Maps are guarded by a sync.RWMutex and a background goroutine evicts expired
// codes, tokens and transactions. It suits development, tests and
// single-instance deployments; state is lost on restart.
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := server.New(store, keySet, cfg, logger)
package memory
