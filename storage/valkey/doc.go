// Package valkey provides a Valkey storage backend for the authorization server.
//
// Valkey is wire-compatible with Redis. The Store type implements
// [storage.Store] and suits deployments that run several server replicas
// against shared state.
//
// # Key Schema
//
// All keys use a configurable prefix (default "oidc:"):
//
//	{prefix}user:{id}                -> JSON(User)
//	{prefix}user:name:{username}     -> user ID
//	{prefix}client:{id}              -> JSON(Client)
//	{prefix}client:cid:{client_id}   -> client ID
//	{prefix}code:{code}              -> JSON(code record), TTL
//	{prefix}token:{token}            -> JSON(AccessToken), TTL
//	{prefix}txn:{id}                 -> JSON(Transaction), TTL
//
// Codes, tokens and transactions carry a TTL of their remaining lifetime plus
// the clock skew grace period, so the table of pending transactions expires
// without a cleanup job.
//
// # Atomic Operations
//
//   - ConsumeAuthorizationCode runs a Lua script that checks and sets the used
//     flag in one step. Exactly one concurrent exchange wins.
//   - DeleteTransaction relies on the DEL reply count, so exactly one
//     concurrent decision claims a transaction.
//   - SaveUser and SaveClient maintain their unique index in a Lua script.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "valkey.example.com:6379",
//	    Password:  os.Getenv("VALKEY_PASSWORD"),
//	    TLS:       &tls.Config{MinVersion: tls.VersionTLS12},
//	})
package valkey
