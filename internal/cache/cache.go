package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned when a key is not found in cache
var ErrCacheMiss = errors.New("cache miss")

// Cache defines the cache interface
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, pattern string) error
	Close() error
}

// StudyKey generates the cache key for resolved study metadata.
func StudyKey(studyUID string) string {
	return "study:" + studyUID + ":meta"
}

// TagsKey generates the cache key for the raw tag dump of a study.
func TagsKey(studyUID string) string {
	return "study:" + studyUID + ":tags"
}
