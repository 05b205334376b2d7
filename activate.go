package shellcache

import (
	"fmt"

	"github.com/shellcache/shellcache/pkg/metrics"
)

// Activate makes the given cache version the serving one. Every other cache
// store is deleted first; deletion is unconditional and irreversible. Once
// pruning is done the serving path switches to the new store atomically,
// without interrupting in-flight requests.
func (s *ShellCache) Activate(version string) error {
	stores, err := s.cache.Stores()
	if err != nil {
		return fmt.Errorf("list cache stores: %w", err)
	}

	pruned := 0
	for _, name := range stores {
		if name == version {
			continue
		}
		if err := s.cache.DropStore(name); err != nil {
			return fmt.Errorf("drop cache store %s: %w", name, err)
		}
		s.log.Info().Str("store", name).Msg("Dropped stale cache store")
		pruned++
	}
	metrics.AddStoresPruned(pruned)

	s.claim(version)
	metrics.IncActivation()
	s.log.Info().Str("version", version).Msg("Cache version activated")
	return nil
}
