// Package credentials keeps the per-provider API keys in memory and mirrors
// them into the local key/value store.
package credentials

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"medivoice/internal/domain"
)

// KV is the persistence boundary for keys.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

var storageKeys = map[domain.ProviderID]string{
	domain.ProviderGemini: "gemini_api_key",
	domain.ProviderOpenAI: "openai_api_key",
}

// StorageKey returns the persisted key name for provider.
func StorageKey(provider domain.ProviderID) (string, error) {
	name, ok := storageKeys[provider]
	if !ok {
		return "", fmt.Errorf("unknown provider %q", provider)
	}
	return name, nil
}

// Cache is the process-wide credential cache.
type Cache struct {
	kv KV

	mu   sync.RWMutex
	keys map[domain.ProviderID]string
}

// NewCache builds an empty cache over kv. Call Load to read persisted keys.
func NewCache(kv KV) *Cache {
	return &Cache{kv: kv, keys: map[domain.ProviderID]string{}}
}

// Load reads every provider key from storage.
func (c *Cache) Load(ctx context.Context) error {
	loaded := make(map[domain.ProviderID]string, len(storageKeys))
	for _, provider := range domain.Providers() {
		value, ok, err := c.kv.Get(ctx, storageKeys[provider])
		if err != nil {
			return fmt.Errorf("load %s key: %w", provider, err)
		}
		if ok && strings.TrimSpace(value) != "" {
			loaded[provider] = strings.TrimSpace(value)
		}
	}

	c.mu.Lock()
	c.keys = loaded
	c.mu.Unlock()
	return nil
}

// Save stores key for provider. A blank key clears it.
func (c *Cache) Save(ctx context.Context, provider domain.ProviderID, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return c.Clear(ctx, provider)
	}
	name, err := StorageKey(provider)
	if err != nil {
		return err
	}
	if err := c.kv.Set(ctx, name, key); err != nil {
		return fmt.Errorf("save %s key: %w", provider, err)
	}

	c.mu.Lock()
	c.keys[provider] = key
	c.mu.Unlock()
	return nil
}

// Clear erases the key for provider.
func (c *Cache) Clear(ctx context.Context, provider domain.ProviderID) error {
	name, err := StorageKey(provider)
	if err != nil {
		return err
	}
	if err := c.kv.Delete(ctx, name); err != nil {
		return fmt.Errorf("clear %s key: %w", provider, err)
	}

	c.mu.Lock()
	delete(c.keys, provider)
	c.mu.Unlock()
	return nil
}

// Snapshot returns an immutable copy of the current keys.
func (c *Cache) Snapshot() domain.Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(domain.Credentials, len(c.keys))
	for provider, key := range c.keys {
		out[provider] = key
	}
	return out
}

// Status reports which providers have a key configured.
func (c *Cache) Status() map[domain.ProviderID]bool {
	snapshot := c.Snapshot()
	out := make(map[domain.ProviderID]bool, len(storageKeys))
	for _, provider := range domain.Providers() {
		out[provider] = snapshot.Has(provider)
	}
	return out
}
