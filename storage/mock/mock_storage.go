// Package mock provides a fault-injecting storage.Store for testing how
// callers handle backend failures.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/oidc-core/storage"
)

// Store wraps a working backend. Every call is counted, and a method set to
// fail with FailOn returns that error instead of reaching the backend.
type Store struct {
	backend storage.Store

	mu         sync.Mutex
	failures   map[string]error
	callCounts map[string]int
}

var _ storage.Store = (*Store)(nil)

// New wraps backend, usually a memory.Store.
func New(backend storage.Store) *Store {
	return &Store{
		backend:    backend,
		failures:   make(map[string]error),
		callCounts: make(map[string]int),
	}
}

// FailOn makes method (e.g. "GetUserByUsername") return err. A nil err
// restores normal behaviour.
func (m *Store) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// Calls returns how often method was invoked.
func (m *Store) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[method]
}

// ResetCallCounts resets all call counters
func (m *Store) ResetCallCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCounts = make(map[string]int)
}

// SetClockSkew forwards to the backend when it supports a grace period.
func (m *Store) SetClockSkew(grace time.Duration) {
	if cs, ok := m.backend.(storage.ClockSkewSetter); ok {
		cs.SetClockSkew(grace)
	}
}

func (m *Store) enter(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCounts[method]++
	return m.failures[method]
}

func (m *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if err := m.enter("SaveUser"); err != nil {
		return err
	}
	return m.backend.SaveUser(ctx, user)
}

func (m *Store) GetUser(ctx context.Context, id string) (*storage.User, error) {
	if err := m.enter("GetUser"); err != nil {
		return nil, err
	}
	return m.backend.GetUser(ctx, id)
}

func (m *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	if err := m.enter("GetUserByUsername"); err != nil {
		return nil, err
	}
	return m.backend.GetUserByUsername(ctx, username)
}

func (m *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if err := m.enter("SaveClient"); err != nil {
		return err
	}
	return m.backend.SaveClient(ctx, client)
}

func (m *Store) GetClient(ctx context.Context, id string) (*storage.Client, error) {
	if err := m.enter("GetClient"); err != nil {
		return nil, err
	}
	return m.backend.GetClient(ctx, id)
}

func (m *Store) GetClientByClientID(ctx context.Context, clientID string) (*storage.Client, error) {
	if err := m.enter("GetClientByClientID"); err != nil {
		return nil, err
	}
	return m.backend.GetClientByClientID(ctx, clientID)
}

func (m *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if err := m.enter("SaveAuthorizationCode"); err != nil {
		return err
	}
	return m.backend.SaveAuthorizationCode(ctx, code)
}

func (m *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	if err := m.enter("GetAuthorizationCode"); err != nil {
		return nil, err
	}
	return m.backend.GetAuthorizationCode(ctx, code)
}

func (m *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	if err := m.enter("ConsumeAuthorizationCode"); err != nil {
		return nil, err
	}
	return m.backend.ConsumeAuthorizationCode(ctx, code)
}

func (m *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	if err := m.enter("DeleteAuthorizationCode"); err != nil {
		return err
	}
	return m.backend.DeleteAuthorizationCode(ctx, code)
}

func (m *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if err := m.enter("SaveAccessToken"); err != nil {
		return err
	}
	return m.backend.SaveAccessToken(ctx, token)
}

func (m *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	if err := m.enter("GetAccessToken"); err != nil {
		return nil, err
	}
	return m.backend.GetAccessToken(ctx, token)
}

func (m *Store) SaveTransaction(ctx context.Context, txn *storage.Transaction) error {
	if err := m.enter("SaveTransaction"); err != nil {
		return err
	}
	return m.backend.SaveTransaction(ctx, txn)
}

func (m *Store) GetTransaction(ctx context.Context, id string) (*storage.Transaction, error) {
	if err := m.enter("GetTransaction"); err != nil {
		return nil, err
	}
	return m.backend.GetTransaction(ctx, id)
}

func (m *Store) DeleteTransaction(ctx context.Context, id string) error {
	if err := m.enter("DeleteTransaction"); err != nil {
		return err
	}
	return m.backend.DeleteTransaction(ctx, id)
}
