// Package mongo provides a MongoDB storage backend for the authorization server.
//
// Each record type lives in its own collection:
//
//	users                 _id = User.ID, unique index on username
//	clients               _id = Client.ID, unique index on client_id
//	authorization_codes   _id = code, TTL index on expires_at
//	access_tokens         _id = token, TTL index on expires_at
//	transactions          _id = transaction ID, TTL index on expires_at
//
// The TTL indexes let MongoDB evict expired artifacts in the background.
// Reads still check expiry themselves since the TTL monitor runs about
// once a minute.
//
// ConsumeAuthorizationCode is a single FindOneAndUpdate conditioned on
// used = false, and DeleteTransaction relies on DeletedCount, so both are
// safe across replicas.
package mongo
