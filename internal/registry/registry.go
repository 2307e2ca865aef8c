// Package registry provides a concurrency-safe key/value table whose keys are
// short random strings generated so that they never collide with a live entry.
//
// Keys are drawn from a configurable alphabet at a fixed length. Generation
// keeps sampling until it finds an unused key. With the default configuration
// (62 symbols, length 10) the key space is large enough that this terminates
// almost immediately; for very small configurations the loop may spin for a
// long time, so callers can bound it with WithMaxAttempts. A registry that
// already holds every possible key fails fast with ErrKeySpaceExhausted.
package registry

import (
	"crypto/rand"
	"fmt"
	"io"
	"math"
	"math/big"
	"sync"
)

const (
	// DefaultKeyLength is the length of generated keys.
	DefaultKeyLength = 10
	// DefaultAlphabet contains digits and mixed-case ASCII letters.
	DefaultAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// Entry is a single key/value pair in a registry snapshot.
type Entry[T any] struct {
	Key   string
	Value T
}

// Registry stores values under generated keys.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries map[string]T

	alphabet    []rune
	symbols     map[rune]struct{}
	length      int
	maxAttempts int
	keySpace    uint64

	// shaped counts live keys the generator could have produced; keys stored
	// through Set in any other shape do not use up the key space.
	shaped int

	// randMu is shared with clones, which read the same source.
	randMu *sync.Mutex
	random io.Reader
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	alphabet    string
	length      int
	maxAttempts int
	random      io.Reader
}

// WithKeyLength sets the length of generated keys.
func WithKeyLength(n int) Option {
	return func(o *options) { o.length = n }
}

// WithAlphabet sets the symbols generated keys are drawn from.
func WithAlphabet(alphabet string) Option {
	return func(o *options) { o.alphabet = alphabet }
}

// WithMaxAttempts bounds the number of colliding candidates Generate tolerates
// before giving up with ErrTooManyAttempts. Zero means unbounded.
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// WithRandom replaces the randomness source (crypto/rand by default). Reads
// are serialized by the registry, so r need not be safe for concurrent use.
func WithRandom(r io.Reader) Option {
	return func(o *options) { o.random = r }
}

// New creates an empty registry.
func New[T any](opts ...Option) (*Registry[T], error) {
	o := options{
		alphabet: DefaultAlphabet,
		length:   DefaultKeyLength,
		random:   rand.Reader,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.length <= 0 {
		return nil, fmt.Errorf("%w: key length must be positive, got %d", ErrInvalidConfig, o.length)
	}
	if o.maxAttempts < 0 {
		return nil, fmt.Errorf("%w: max attempts must not be negative, got %d", ErrInvalidConfig, o.maxAttempts)
	}
	if o.random == nil {
		return nil, fmt.Errorf("%w: random source is nil", ErrInvalidConfig)
	}
	alphabet := []rune(o.alphabet)
	if len(alphabet) == 0 {
		return nil, fmt.Errorf("%w: alphabet is empty", ErrInvalidConfig)
	}
	seen := make(map[rune]struct{}, len(alphabet))
	for _, r := range alphabet {
		if _, dup := seen[r]; dup {
			return nil, fmt.Errorf("%w: alphabet repeats symbol %q", ErrInvalidConfig, r)
		}
		seen[r] = struct{}{}
	}

	return &Registry[T]{
		entries:     make(map[string]T),
		alphabet:    alphabet,
		symbols:     seen,
		length:      o.length,
		maxAttempts: o.maxAttempts,
		keySpace:    keySpace(len(alphabet), o.length),
		randMu:      new(sync.Mutex),
		random:      o.random,
	}, nil
}

// keySpace returns alphabet^length, saturating at math.MaxUint64.
func keySpace(symbols, length int) uint64 {
	total := uint64(1)
	for i := 0; i < length; i++ {
		if total > math.MaxUint64/uint64(symbols) {
			return math.MaxUint64
		}
		total *= uint64(symbols)
	}
	return total
}

// KeySpace returns the number of distinct keys the registry can generate,
// saturating at math.MaxUint64.
func (r *Registry[T]) KeySpace() uint64 {
	return r.keySpace
}

// Generate returns a key that is not in use at the time of the call. The key is
// not reserved; use AutoSet to generate and insert atomically.
func (r *Registry[T]) Generate() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generateLocked()
}

func (r *Registry[T]) generateLocked() (string, error) {
	if uint64(r.shaped) >= r.keySpace {
		return "", fmt.Errorf("%w: all %d keys are in use", ErrKeySpaceExhausted, r.keySpace)
	}

	for attempt := 1; ; attempt++ {
		key, err := r.sample()
		if err != nil {
			return "", fmt.Errorf("generate key: %w", err)
		}
		if _, exists := r.entries[key]; !exists {
			return key, nil
		}
		if r.maxAttempts > 0 && attempt >= r.maxAttempts {
			return "", fmt.Errorf("%w: %d candidates collided", ErrTooManyAttempts, attempt)
		}
	}
}

// fits reports whether key has the length and symbols of a generated key.
func (r *Registry[T]) fits(key string) bool {
	n := 0
	for _, c := range key {
		if _, ok := r.symbols[c]; !ok {
			return false
		}
		n++
	}
	return n == r.length
}

// insertLocked stores value under a key known to be free.
func (r *Registry[T]) insertLocked(key string, value T) {
	r.entries[key] = value
	if r.fits(key) {
		r.shaped++
	}
}

func (r *Registry[T]) sample() (string, error) {
	r.randMu.Lock()
	defer r.randMu.Unlock()

	limit := big.NewInt(int64(len(r.alphabet)))
	key := make([]rune, r.length)
	for i := range key {
		n, err := rand.Int(r.random, limit)
		if err != nil {
			return "", err
		}
		key[i] = r.alphabet[n.Int64()]
	}
	return string(key), nil
}

// Set stores value under key. It fails with a *DuplicateKeyError if the key is
// already in use, leaving the existing value in place.
func (r *Registry[T]) Set(key string, value T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; exists {
		return &DuplicateKeyError{Op: "set", Key: key}
	}
	r.insertLocked(key, value)
	return nil
}

// AutoSet stores value under a freshly generated key and returns that key.
func (r *Registry[T]) AutoSet(value T) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, err := r.generateLocked()
	if err != nil {
		return "", fmt.Errorf("auto set: %w", err)
	}
	r.insertLocked(key, value)
	return key, nil
}

// Get returns the value stored under key.
func (r *Registry[T]) Get(key string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.entries[key]
	return v, ok
}

// Has reports whether key is in use.
func (r *Registry[T]) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[key]
	return ok
}

// Delete removes key and returns the value it held.
func (r *Registry[T]) Delete(key string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
		if r.fits(key) {
			r.shaped--
		}
	}
	return v, ok
}

// Len returns the number of live entries.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Values returns a snapshot of all stored values in unspecified order.
func (r *Registry[T]) Values() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]T, 0, len(r.entries))
	for _, v := range r.entries {
		result = append(result, v)
	}
	return result
}

// Keys returns a snapshot of all live keys in unspecified order.
func (r *Registry[T]) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.entries))
	for k := range r.entries {
		result = append(result, k)
	}
	return result
}

// Entries returns a snapshot of all key/value pairs in unspecified order.
func (r *Registry[T]) Entries() []Entry[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Entry[T], 0, len(r.entries))
	for k, v := range r.entries {
		result = append(result, Entry[T]{Key: k, Value: v})
	}
	return result
}

// Clone returns an independent registry with the same configuration and a
// shallow copy of the current entries.
func (r *Registry[T]) Clone() *Registry[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make(map[string]T, len(r.entries))
	for k, v := range r.entries {
		entries[k] = v
	}
	return &Registry[T]{
		entries:     entries,
		alphabet:    r.alphabet,
		symbols:     r.symbols,
		length:      r.length,
		maxAttempts: r.maxAttempts,
		keySpace:    r.keySpace,
		shaped:      r.shaped,
		randMu:      r.randMu,
		random:      r.random,
	}
}
