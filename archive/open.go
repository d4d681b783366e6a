package archive

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-relay/internal/reliability"
	"go.uber.org/multierr"
)

// Options selects the archival backends
type Options struct {
	// CacheURL enables the Redis backend when set
	CacheURL string
	// CacheTTL expires cached records, zero keeps them
	CacheTTL time.Duration
	// FileEnabled enables the file backend
	FileEnabled bool
	// FilePath is the file backend directory
	FilePath string
	// BreakerThreshold is the number of consecutive cache failures that open
	// the circuit, 5 when zero
	BreakerThreshold int
	// BreakerTimeout is how long the cache is skipped once the circuit is
	// open, 30s when zero
	BreakerTimeout time.Duration
	// OnBreakerChange observes cache circuit transitions
	OnBreakerChange reliability.StateChangeFunc
	Logger          *slog.Logger
}

// Open builds the store described by opts: Nop when nothing is enabled, the
// single backend when one is, and a Multi otherwise. The cache backend is
// always wrapped in a circuit breaker.
func Open(opts Options) (Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var stores Multi

	if opts.CacheURL != "" {
		redisStore, err := OpenRedis(opts.CacheURL, WithTTL(opts.CacheTTL))
		if err != nil {
			return nil, err
		}

		breakerOpts := []reliability.CircuitBreakerOption{
			reliability.WithName("cache"),
			reliability.WithStateChange(func(name string, from, to reliability.State) {
				logger.Warn("archive circuit changed state",
					"circuit", name, "from", from.String(), "to", to.String())
				if opts.OnBreakerChange != nil {
					opts.OnBreakerChange(name, from, to)
				}
			}),
		}
		if opts.BreakerThreshold > 0 {
			breakerOpts = append(breakerOpts, reliability.WithFailureThreshold(opts.BreakerThreshold))
		}
		if opts.BreakerTimeout > 0 {
			breakerOpts = append(breakerOpts, reliability.WithOpenTimeout(opts.BreakerTimeout))
		}

		stores = append(stores, NewGuarded(redisStore, reliability.NewCircuitBreaker(breakerOpts...)))
		logger.Info("cache archival enabled", "ttl", opts.CacheTTL)
	}

	if opts.FileEnabled {
		fileStore, err := NewFileStore(opts.FilePath)
		if err != nil {
			return nil, multierr.Append(err, stores.Close())
		}
		stores = append(stores, fileStore)
		logger.Info("file archival enabled", "path", fileStore.Dir())
	}

	switch len(stores) {
	case 0:
		logger.Info("archival disabled")
		return Nop{}, nil
	case 1:
		return stores[0], nil
	default:
		return stores, nil
	}
}

// Describe returns a short label for logs
func Describe(s Store) string {
	switch v := s.(type) {
	case Nop:
		return "none"
	case *MemoryStore:
		return "memory"
	case *FileStore:
		return "file"
	case *RedisStore:
		return "cache"
	case *Guarded:
		return Describe(v.Unwrap())
	case Multi:
		label := ""
		for i, inner := range v {
			if i > 0 {
				label += "+"
			}
			label += Describe(inner)
		}
		return label
	default:
		return fmt.Sprintf("%T", s)
	}
}

// FindRedis returns the cache backend inside s, looking through Guarded and
// Multi
func FindRedis(s Store) (*RedisStore, bool) {
	switch v := s.(type) {
	case *RedisStore:
		return v, true
	case *Guarded:
		return FindRedis(v.Unwrap())
	case Multi:
		for _, inner := range v {
			if r, ok := FindRedis(inner); ok {
				return r, true
			}
		}
	}
	return nil, false
}
