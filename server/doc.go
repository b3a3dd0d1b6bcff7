// Package server implements the protocol core of the OAuth 2.0 / OpenID
// Connect authorization server.
//
// It owns four concerns and nothing else:
//   - credential verification for users, clients and bearer tokens
//   - issuance of authorization codes, access tokens and signed ID tokens
//   - the authorization transaction between the authorization endpoint and
//     the user's decision
//   - dispatch of grants (by response_type) and exchanges (by grant_type)
//
// Persistence is delegated to a storage.Store and signing to a keys.KeySet
// created once at process start. HTTP concerns live in the root package.
//
// Expected failures (wrong password, unknown client, replayed code) are
// rejections: they wrap ErrRejected and carry an OAuth error code. Anything
// else returned by this package is an infrastructure error.
//
// Example usage:
//
//	store := memory.New()
//	keySet, err := keys.LoadOrGenerate("signing.pem", 2048, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	srv, err := server.New(store, keySet, &server.Config{
//	    Issuer: "https://auth.example.com",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
package server
