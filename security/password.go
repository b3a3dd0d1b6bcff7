package security

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrSecretTooLong is returned when a secret exceeds the 72 bytes bcrypt can hash.
var ErrSecretTooLong = errors.New("secret exceeds 72 bytes")

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// HashSecret hashes a password or client secret with bcrypt at the default cost.
func HashSecret(secret string) (string, error) {
	return HashSecretWithCost(secret, bcrypt.DefaultCost)
}

// HashSecretWithCost hashes with an explicit bcrypt cost. Tests use bcrypt.MinCost.
func HashSecretWithCost(secret string, cost int) (string, error) {
	if len(secret) > 72 {
		return "", ErrSecretTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret compares secret against a bcrypt hash in constant time.
//
// An empty hash means the principal does not exist. The comparison still runs
// against a dummy hash so that unknown usernames and client IDs take as long
// as wrong secrets.
func VerifySecret(hash, secret string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(getDummyHash(), []byte(secret))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

func getDummyHash() []byte {
	dummyHashOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte(GenerateRequestID()), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("bcrypt dummy hash: %v", err))
		}
		dummyHash = h
	})
	return dummyHash
}
