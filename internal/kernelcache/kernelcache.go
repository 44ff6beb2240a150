// Package kernelcache provides a Redis-backed cache (with an in-memory
// fallback) for dose kernels and radiological-depth fields, so repeated
// plan recomputation across a cluster does not regenerate per-(modality,
// energy) PSFs or per-direction depth fields from scratch.
package kernelcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/QuangMacHUST/QuangStationV2/internal/kernel"
	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

// Store is a byte-oriented get/set cache backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// MemoryStore is an in-process Store, used when no Redis endpoint is
// configured or as a development fallback.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]memoryEntry)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	entry, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.data[key] = memoryEntry{value: value, expiresAt: expiresAt}
	m.mu.Unlock()
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// RedisStore is a Store backed by a real Redis connection.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials addr and verifies connectivity with a PING before
// returning.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("kernelcache: redis ping failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set implements Store.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Close implements Store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// DefaultTTL is how long cached kernels and depth fields remain valid
// before requiring recomputation.
const DefaultTTL = 24 * time.Hour

// kernelDTO is the JSON wire shape for a cached kernel.
type kernelDTO struct {
	Size int       `json:"size"`
	Data []float64 `json:"data"`
}

// KernelCache memoizes dose kernels in a Store, keyed by
// (modality, energy, resolution).
type KernelCache struct {
	store Store
	ttl   time.Duration
}

// NewKernelCache wraps store with the dose-kernel get-or-compute
// semantics.
func NewKernelCache(store Store, ttl time.Duration) *KernelCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &KernelCache{store: store, ttl: ttl}
}

// Get returns the cached kernel for key, generating, caching, and
// returning a fresh one on a miss.
func (kc *KernelCache) Get(ctx context.Context, key kernel.Key) (*kernel.Kernel, error) {
	cacheKey := "kernel:" + key.String()

	if raw, ok, err := kc.store.Get(ctx, cacheKey); err != nil {
		return nil, err
	} else if ok {
		var dto kernelDTO
		if err := json.Unmarshal(raw, &dto); err == nil {
			return &kernel.Kernel{Size: dto.Size, Data: dto.Data}, nil
		}
		// Fall through to regeneration on a corrupt cache entry.
	}

	k := kernel.Generate(key.Modality, key.EnergyMeV, key.Size)

	raw, err := json.Marshal(kernelDTO{Size: k.Size, Data: k.Data})
	if err == nil {
		_ = kc.store.Set(ctx, cacheKey, raw, kc.ttl)
	}

	return k, nil
}

// gridDTO is the JSON wire shape for a cached Grid3D.
type gridDTO struct {
	Shape types.GridShape `json:"shape"`
	Data  []float64       `json:"data"`
}

// DepthFieldCache memoizes radiological-depth fields in a Store, keyed by
// caller-supplied direction/geometry identity.
type DepthFieldCache struct {
	store Store
	ttl   time.Duration
}

// NewDepthFieldCache wraps store with the depth-field get-or-compute
// semantics.
func NewDepthFieldCache(store Store, ttl time.Duration) *DepthFieldCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DepthFieldCache{store: store, ttl: ttl}
}

// GetOrCompute returns the cached depth field for key, or calls compute,
// caches, and returns its result on a miss.
func (dc *DepthFieldCache) GetOrCompute(ctx context.Context, key string, compute func() *types.Grid3D) (*types.Grid3D, error) {
	cacheKey := "depth:" + key

	if raw, ok, err := dc.store.Get(ctx, cacheKey); err != nil {
		return nil, err
	} else if ok {
		var dto gridDTO
		if err := json.Unmarshal(raw, &dto); err == nil {
			return &types.Grid3D{Shape: dto.Shape, Data: dto.Data}, nil
		}
	}

	grid := compute()

	raw, err := json.Marshal(gridDTO{Shape: grid.Shape, Data: grid.Data})
	if err == nil {
		_ = dc.store.Set(ctx, cacheKey, raw, dc.ttl)
	}

	return grid, nil
}
