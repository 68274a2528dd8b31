// Package cache provides a Cache interface for provider responses and
// Memory, an in-process LRU implementation with TTL expiration.
package cache

import "github.com/vantagegw/llm-gateway/providers"

// Cache defines the interface for response caching.
type Cache interface {
	Get(key string) (*providers.Response, bool)
	Set(key string, resp *providers.Response)
	Delete(key string)
	Len() int
	Clear()
}
