// Package metadata keeps the reloadable index from secured resource
// patterns to the authorities they require.
package metadata

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/auth/storage"
	"github.com/amoylab/authcore/internal/common/uow"
	"github.com/amoylab/authcore/pkg/metrics"
)

// Source lists the secured resources the index is built from.
type Source interface {
	ListResources(ctx context.Context) ([]*storage.SecuredResource, error)
}

type entry struct {
	matcher     *Matcher
	authorities []string
}

// index is immutable once published.
type index struct {
	entries []entry
}

// Metadata answers authorization lookups from the last loaded index.
// Readers never block on a reload and always see one complete index.
type Metadata struct {
	logger  *zap.Logger
	source  Source
	metrics *metrics.Metrics

	reloadMu sync.Mutex
	current  atomic.Pointer[index]
}

// New creates an empty index; call Reload to populate it
func New(logger *zap.Logger, source Source, m *metrics.Metrics) *Metadata {
	md := &Metadata{
		logger:  logger.Named("auth.metadata"),
		source:  source,
		metrics: m,
	}
	md.current.Store(&index{})
	return md
}

// Load reads the resource store and merges the authorities of resources
// that share a pattern and method.
func (m *Metadata) Load(ctx context.Context) (map[Key][]string, error) {
	resources, err := m.source.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[Key][]string, len(resources))
	for _, r := range resources {
		method := r.Method
		if method == "" {
			method = storage.MethodAll
		}
		key := Key{Pattern: r.Pattern, Method: method}
		out[key] = union(out[key], r.Authorities)
	}
	return out, nil
}

// Reload rebuilds the index and publishes it. Reloads are serialized; a
// failed reload keeps the previous index.
func (m *Metadata) Reload(ctx context.Context) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	loaded, err := m.Load(ctx)
	if err != nil {
		m.logger.Error("failed to load secured resources", zap.Error(err))
		m.metrics.MetadataReloaded(0, err)
		return err
	}

	next := &index{entries: make([]entry, 0, len(loaded))}
	for key, authorities := range loaded {
		matcher, err := NewMatcher(key)
		if err != nil {
			m.logger.Warn("skipping invalid resource pattern",
				zap.String("pattern", key.Pattern),
				zap.Error(err))
			continue
		}
		next.entries = append(next.entries, entry{matcher: matcher, authorities: authorities})
	}

	m.current.Store(next)
	m.metrics.MetadataReloaded(len(next.entries), nil)
	m.logger.Info("authorization metadata reloaded", zap.Int("entries", len(next.entries)))
	return nil
}

// RequiredAuthorities is the union of the authorities of every entry
// matching path and method. No match yields an empty set.
func (m *Metadata) RequiredAuthorities(path, method string) []string {
	idx := m.current.Load()
	var out []string
	for _, e := range idx.entries {
		if e.matcher.Match(path, method) {
			out = union(out, e.authorities)
		}
	}
	if out == nil {
		return []string{}
	}
	sort.Strings(out)
	return out
}

// Size is the number of entries in the published index.
func (m *Metadata) Size() int {
	return len(m.current.Load().entries)
}

// HandleChanges is a uow.Handler reloading once per committed batch that
// touched a secured resource.
func (m *Metadata) HandleChanges(ctx context.Context, events []uow.Event) {
	for _, e := range events {
		if e.Aggregate == storage.AggregateSecuredResource {
			if err := m.Reload(ctx); err != nil {
				m.logger.Error("reload after resource change failed", zap.Error(err))
			}
			return
		}
	}
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
