// Package storage defines the entity model and persistence interfaces of the
// authorization server.
//
// The storage package defines the store contracts used throughout the server:
//   - UserStore: resource owners and their hashed passwords
//   - ClientStore: registered clients, their hashed secrets and redirect URIs
//   - CodeStore: single-use authorization codes
//   - TokenStore: opaque bearer access tokens
//   - TransactionStore: pending authorization decisions
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/valkey: Valkey/Redis-compatible distributed storage
//   - storage/sqlstore: GORM-backed SQL storage (SQLite, PostgreSQL)
//   - storage/mongo: MongoDB storage
package storage
