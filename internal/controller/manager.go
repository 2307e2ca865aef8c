// Package controller binds named controllers to host objects on demand.
//
// A Manager maps controller names to factories. Names are either registered
// eagerly with Set or resolved lazily through an injected Resolver; a
// successful resolution is cached for the lifetime of the manager. Failed
// resolutions are not cached, so the next request for the same name tries
// again.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultAttribute is the host attribute holding the controller name.
const DefaultAttribute = "ctr"

// State is the resolution state of a controller name.
type State int

const (
	Unresolved State = iota
	Resolving
	Resolved
	Failed
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolving:
		return "resolving"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Host is an object controllers are bound to.
type Host[C any] interface {
	// Attr returns the value of a named attribute on the host.
	Attr(name string) (string, bool)
	// Attach binds an instantiated controller to the host.
	Attach(c C)
}

// Factory instantiates a controller for a host.
type Factory[C any] func(host Host[C]) (C, error)

// Resolver looks up the factory for a controller name, typically from a
// source that is slow or remote.
type Resolver[C any] func(ctx context.Context, name string) (Factory[C], error)

// Manager caches controller factories by name.
type Manager[C any] struct {
	attribute string
	logger    *slog.Logger

	mu        sync.RWMutex
	factories map[string]Factory[C]
	resolving map[string]struct{}
	failed    map[string]struct{}
	resolver  Resolver[C]

	group singleflight.Group
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	attribute string
	logger    *slog.Logger
}

// WithAttribute overrides the host attribute that names the controller.
func WithAttribute(name string) Option {
	return func(o *options) { o.attribute = name }
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewManager creates a manager with no factories and no resolver.
func NewManager[C any](opts ...Option) *Manager[C] {
	o := options{attribute: DefaultAttribute, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager[C]{
		attribute: o.attribute,
		logger:    o.logger,
		factories: make(map[string]Factory[C]),
		resolving: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
	}
}

// Attribute returns the host attribute read by CheckAndInstance.
func (m *Manager[C]) Attribute() string {
	return m.attribute
}

// Set registers the factory for name. Registered factories are never evicted.
func (m *Manager[C]) Set(name string, f Factory[C]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[name] = f
	delete(m.failed, name)
}

// SetResolver installs the strategy used for names that are not registered.
func (m *Manager[C]) SetResolver(r Resolver[C]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolver = r
}

// State reports the resolution state of name.
func (m *Manager[C]) State(name string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.factories[name]; ok {
		return Resolved
	}
	if _, ok := m.resolving[name]; ok {
		return Resolving
	}
	if _, ok := m.failed[name]; ok {
		return Failed
	}
	return Unresolved
}

// Names returns the names of all resolved controllers, sorted.
func (m *Manager[C]) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckAndInstance reads the controller name from host, resolves its factory
// if needed, instantiates the controller and attaches it to host.
func (m *Manager[C]) CheckAndInstance(ctx context.Context, host Host[C]) (C, error) {
	var zero C

	name, ok := host.Attr(m.attribute)
	if !ok || name == "" {
		return zero, ErrNoControllerAttribute
	}

	factory, err := m.Resolve(ctx, name)
	if err != nil {
		return zero, err
	}

	c, err := factory(host)
	if err != nil {
		return zero, fmt.Errorf("instantiate controller %q: %w", name, err)
	}
	host.Attach(c)
	return c, nil
}

// Resolve returns the factory for name, invoking the resolver at most once per
// name across concurrent callers. Concurrent callers share the first caller's
// resolution, including its context.
func (m *Manager[C]) Resolve(ctx context.Context, name string) (Factory[C], error) {
	m.mu.RLock()
	f, ok := m.factories[name]
	m.mu.RUnlock()
	if ok {
		return f, nil
	}

	v, err, _ := m.group.Do(name, func() (any, error) {
		return m.resolve(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(Factory[C]), nil
}

func (m *Manager[C]) resolve(ctx context.Context, name string) (Factory[C], error) {
	m.mu.Lock()
	if f, ok := m.factories[name]; ok {
		m.mu.Unlock()
		return f, nil
	}
	resolver := m.resolver
	if resolver == nil {
		m.failed[name] = struct{}{}
		m.mu.Unlock()
		return nil, &ResolutionError{Name: name, Err: ErrNoResolver}
	}
	delete(m.failed, name)
	m.resolving[name] = struct{}{}
	m.mu.Unlock()

	f, err := resolver(ctx, name)
	if err == nil && f == nil {
		err = errors.New("resolver returned no factory")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resolving, name)

	// A factory installed by Set while the resolver ran takes precedence.
	if existing, ok := m.factories[name]; ok {
		return existing, nil
	}

	if err != nil {
		m.failed[name] = struct{}{}
		m.logger.Warn("controller resolution failed",
			slog.String("controller", name),
			slog.String("error", err.Error()),
		)
		return nil, &ResolutionError{Name: name, Err: err}
	}

	m.factories[name] = f
	m.logger.Debug("controller resolved", slog.String("controller", name))
	return f, nil
}
