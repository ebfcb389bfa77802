package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"licgate/internal/models"
)

/* ───── Redis ───── */

// RedisLoginRequests хранит последний запрос на вход по лицензии с TTL.
type RedisLoginRequests struct {
	client *redis.Client
}

func NewRedisLoginRequests(client *redis.Client) *RedisLoginRequests {
	return &RedisLoginRequests{client: client}
}

func loginRequestKey(licenseKey string) string { return keyPrefix + "login_request:" + licenseKey }

func (s *RedisLoginRequests) Put(ctx context.Context, req models.LoginRequest, ttl time.Duration) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, loginRequestKey(req.LicenseKey), raw, ttl).Err()
}

func (s *RedisLoginRequests) Get(ctx context.Context, licenseKey string) (*models.LoginRequest, error) {
	raw, err := s.client.Get(ctx, loginRequestKey(licenseKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var out models.LoginRequest
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *RedisLoginRequests) Delete(ctx context.Context, licenseKey string) error {
	return s.client.Del(ctx, loginRequestKey(licenseKey)).Err()
}

/* ───── память процесса ───── */

type memLoginRequest struct {
	req       models.LoginRequest
	expiresAt time.Time
}

type MemLoginRequests struct {
	mu    sync.Mutex
	items map[string]memLoginRequest
	now   func() time.Time
}

func NewMemLoginRequests() *MemLoginRequests {
	return &MemLoginRequests{items: make(map[string]memLoginRequest), now: time.Now}
}

func (m *MemLoginRequests) Put(_ context.Context, req models.LoginRequest, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[req.LicenseKey] = memLoginRequest{req: req, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemLoginRequests) Get(_ context.Context, licenseKey string) (*models.LoginRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[licenseKey]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(it.expiresAt) {
		delete(m.items, licenseKey)
		return nil, nil
	}
	req := it.req
	return &req, nil
}

func (m *MemLoginRequests) Delete(_ context.Context, licenseKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, licenseKey)
	return nil
}

// GC выкидывает протухшие запросы; вызывается фоновым sweeper'ом.
func (m *MemLoginRequests) GC() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, it := range m.items {
		if !now.Before(it.expiresAt) {
			delete(m.items, k)
			n++
		}
	}
	return n
}
