package remote

import (
	"encoding/hex"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/blake2b"
)

// NewClientFunc builds an API client for one secret key.
type NewClientFunc func(apiKey string) (API, error)

// Factory hands out one API client per secret key. Clients are cached in
// a bounded LRU keyed by a fingerprint of the key, so secrets are not kept
// as map keys.
type Factory struct {
	mu        sync.Mutex
	cache     *lru.Cache[string, API]
	newClient NewClientFunc
}

// DefaultFactorySize is the number of clients a Factory keeps.
const DefaultFactorySize = 16

// NewFactory creates a factory. size <= 0 uses DefaultFactorySize.
func NewFactory(size int, newClient NewClientFunc) (*Factory, error) {
	if newClient == nil {
		return nil, fmt.Errorf("client constructor is required")
	}
	if size <= 0 {
		size = DefaultFactorySize
	}
	cache, err := lru.New[string, API](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create client cache: %w", err)
	}
	return &Factory{cache: cache, newClient: newClient}, nil
}

// NewHTTPFactory creates a factory of HTTP clients sharing cfg except for
// the API key.
func NewHTTPFactory(size int, cfg Config) (*Factory, error) {
	return NewFactory(size, func(apiKey string) (API, error) {
		c := cfg
		c.APIKey = apiKey
		return NewHTTPClient(&c)
	})
}

// Client returns the client for apiKey, building it on first use.
func (f *Factory) Client(apiKey string) (API, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	fp := Fingerprint(apiKey)

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.cache.Get(fp); ok {
		return c, nil
	}
	c, err := f.newClient(apiKey)
	if err != nil {
		return nil, err
	}
	f.cache.Add(fp, c)
	return c, nil
}

// Len returns the number of cached clients.
func (f *Factory) Len() int {
	return f.cache.Len()
}

// Fingerprint returns a hex BLAKE2b-256 digest of a secret key.
func Fingerprint(apiKey string) string {
	sum := blake2b.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
