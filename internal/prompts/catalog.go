package prompts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Snapshot is an immutable set of resolved prompts keyed by agent name.
type Snapshot struct {
	prompts  map[string]Prompt
	LoadedAt time.Time
}

// Get returns the prompt bound to name.
func (s *Snapshot) Get(name string) (Prompt, bool) {
	if s == nil {
		return Prompt{}, false
	}
	p, ok := s.prompts[name]
	return p, ok
}

// Names lists bound agent names, sorted.
func (s *Snapshot) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.prompts))
	for n := range s.prompts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Catalog binds agent names to prompt references and keeps the current
// Snapshot. It is built once and passed to whatever constructs agents.
type Catalog struct {
	src    Source
	refs   map[string]Ref
	logger *slog.Logger

	mu    sync.Mutex
	cache map[Ref]Prompt // pinned versions only

	snap    atomic.Pointer[Snapshot]
	fetches atomic.Int64
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithLogger sets the catalog's logger.
func WithLogger(l *slog.Logger) CatalogOption {
	return func(c *Catalog) { c.logger = l }
}

// NewCatalog binds each agent name to a reference of the form "id" or
// "id:version".
func NewCatalog(src Source, bindings map[string]string, opts ...CatalogOption) (*Catalog, error) {
	c := &Catalog{
		src:    src,
		refs:   make(map[string]Ref, len(bindings)),
		cache:  make(map[Ref]Prompt),
		logger: slog.Default(),
	}
	for name, s := range bindings {
		ref, err := ParseRef(s)
		if err != nil {
			return nil, fmt.Errorf("prompt for %s: %w", name, err)
		}
		c.refs[name] = ref
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Snapshot returns the latest loaded snapshot, or nil before the first
// successful Refresh.
func (c *Catalog) Snapshot() *Snapshot { return c.snap.Load() }

// Fetches reports how many source fetches have been made.
func (c *Catalog) Fetches() int64 { return c.fetches.Load() }

// Refresh loads every bound prompt concurrently and swaps in a new snapshot.
// On any failure the previous snapshot stays current.
func (c *Catalog) Refresh(ctx context.Context) error {
	var (
		mu     sync.Mutex
		loaded = make(map[string]Prompt, len(c.refs))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for name, ref := range c.refs {
		g.Go(func() error {
			p, err := c.load(gctx, ref)
			if err != nil {
				return fmt.Errorf("prompt for %s: %w", name, err)
			}
			mu.Lock()
			loaded[name] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.snap.Store(&Snapshot{prompts: loaded, LoadedAt: time.Now()})
	c.logger.InfoContext(ctx, "prompts loaded", "count", len(loaded))
	return nil
}

func (c *Catalog) load(ctx context.Context, ref Ref) (Prompt, error) {
	if ref.Pinned() {
		c.mu.Lock()
		p, ok := c.cache[ref]
		c.mu.Unlock()
		if ok {
			return p, nil
		}
	}

	c.fetches.Add(1)
	doc, err := c.src.Fetch(ctx, ref)
	if err != nil {
		return Prompt{}, err
	}
	p, err := doc.Resolve()
	if err != nil {
		return Prompt{}, err
	}

	if ref.Pinned() {
		c.mu.Lock()
		c.cache[ref] = p
		c.mu.Unlock()
	}
	return p, nil
}

// Schedule refreshes on a cron spec (standard five fields or descriptors
// such as "@every 5m"). Stop the returned scheduler to end refreshing.
func (c *Catalog) Schedule(spec string) (*cron.Cron, error) {
	sched := cron.New()
	_, err := sched.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := c.Refresh(ctx); err != nil {
			c.logger.Warn("scheduled prompt refresh failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("prompt refresh schedule %q: %w", spec, err)
	}
	sched.Start()
	return sched, nil
}

// Watch refreshes whenever the file at path changes, until ctx ends. Bursts
// of events within debounce collapse into one refresh. The parent directory
// is watched so editors that replace the file are handled.
func (c *Catalog) Watch(ctx context.Context, path string, debounce time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch prompts: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch prompts: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch prompts: %w", err)
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watch prompts: event channel closed")
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watch prompts: error channel closed")
			}
			c.logger.WarnContext(ctx, "prompt watcher error", "error", err)
		case <-timer.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.WarnContext(ctx, "prompt reload failed", "path", path, "error", err)
				continue
			}
			c.logger.InfoContext(ctx, "prompts reloaded", "path", path)
		}
	}
}
