package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultKeyBits is the RSA modulus size used by Generate when bits is 0.
	DefaultKeyBits = 2048

	// MinKeyBits is the smallest modulus accepted for RS256.
	MinKeyBits = 2048
)

// KeySet is the process-wide RS256 signing key.
type KeySet struct {
	key *rsa.PrivateKey
	kid string
}

// New wraps an existing private key.
func New(key *rsa.PrivateKey) (*KeySet, error) {
	if key == nil {
		return nil, errors.New("private key is required")
	}
	if key.N.BitLen() < MinKeyBits {
		return nil, fmt.Errorf("RSA key too small: %d bits, need at least %d", key.N.BitLen(), MinKeyBits)
	}

	kid, err := keyID(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeySet{key: key, kid: kid}, nil
}

// Generate creates a fresh key. bits of 0 selects DefaultKeyBits.
func Generate(bits int) (*KeySet, error) {
	if bits == 0 {
		bits = DefaultKeyBits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return New(key)
}

// ParsePEM reads a PKCS#1 ("RSA PRIVATE KEY") or PKCS#8 ("PRIVATE KEY") block.
func ParsePEM(data []byte) (*KeySet, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#1 key: %w", err)
		}
		return New(key)
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("PKCS#8 key is %T, want RSA", parsed)
		}
		return New(key)
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

// LoadPEMFile reads a key from disk.
func LoadPEMFile(path string) (*KeySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return ParsePEM(data)
}

// LoadOrGenerate loads the key at path, or generates one and writes it there
// with 0600 permissions when the file does not exist.
func LoadOrGenerate(path string, bits int, logger *slog.Logger) (*KeySet, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ks, err := LoadPEMFile(path)
	if err == nil {
		logger.Info("Loaded signing key", "path", path, "kid", ks.KeyID())
		return ks, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	ks, err = Generate(bits)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, ks.EncodePEM(), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	logger.Info("Generated signing key", "path", path, "kid", ks.KeyID())
	return ks, nil
}

// EncodePEM returns the private key as a PKCS#8 PEM block.
func (k *KeySet) EncodePEM() []byte {
	der, err := x509.MarshalPKCS8PrivateKey(k.key)
	if err != nil {
		// Only fails for unsupported key types; k.key is always RSA.
		panic(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

// KeyID returns the "kid" header value of signed tokens.
func (k *KeySet) KeyID() string {
	return k.kid
}

// PublicKey returns the verification key.
func (k *KeySet) PublicKey() *rsa.PublicKey {
	return &k.key.PublicKey
}

// Sign serializes claims as a compact RS256 JWS.
func (k *KeySet) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = k.kid

	signed, err := token.SignedString(k.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token signed by this key into claims. Only RS256 is accepted.
func (k *KeySet) Verify(tokenString string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	opts = append([]jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})}, opts...)

	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != "" && kid != k.kid {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return &k.key.PublicKey, nil
	}, opts...)
	return err
}

// JWKS returns the public key set for the jwks_uri endpoint.
func (k *KeySet) JWKS() JWKS {
	return JWKS{Keys: []JWK{PublicKeyToJWK(&k.key.PublicKey, k.kid)}}
}

func keyID(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:])[:16], nil
}
