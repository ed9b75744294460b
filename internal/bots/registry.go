// Package bots runs site-specific crawlers registered by key. A data source with a bot
// key is worked by its bot instead of the generic crawl engine, but products still flow
// through the same session and store.
package bots

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/dealer-gatherer/internal/crawler"
	"github.com/JakeFAU/dealer-gatherer/internal/pipeline"
	"github.com/JakeFAU/dealer-gatherer/internal/product"
	"github.com/JakeFAU/dealer-gatherer/internal/transport"
)

var (
	// ErrUnknownBot is returned when no factory is registered for a key.
	ErrUnknownBot = errors.New("unknown bot")
	// ErrDuplicateBot is returned when a key is registered twice.
	ErrDuplicateBot = errors.New("bot already registered")
)

// Bot crawls one site family with site-specific knowledge.
type Bot interface {
	// RetrieveBaseURLs returns the inventory index pages to start from.
	RetrieveBaseURLs(ctx context.Context, ds crawler.DataSource) ([]string, error)
	// GatherProductURLs returns the listing URLs found on one index page, plus the next
	// index pages to visit (pagination).
	GatherProductURLs(ctx context.Context, page *transport.Page) (products []string, next []string, err error)
	// BuildProduct extracts one listing.
	BuildProduct(ctx context.Context, src pipeline.Source, page *transport.Page) (*product.Product, error)
}

// Deps are handed to every factory.
type Deps struct {
	Builder *pipeline.Builder
	Logger  *zap.Logger
}

// Factory creates a bot for one run.
type Factory func(deps Deps) Bot

// Registry maps bot keys to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Register adds factory under key.
func (r *Registry) Register(key string, factory Factory) error {
	k := normalizeKey(key)
	if k == "" || factory == nil {
		return fmt.Errorf("register bot %q: key and factory are required", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[k]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateBot, k)
	}
	r.factories[k] = factory
	return nil
}

// New creates the bot registered under key.
func (r *Registry) New(key string, deps Deps) (Bot, error) {
	r.mu.RLock()
	factory, ok := r.factories[normalizeKey(key)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBot, key)
	}
	return factory(deps), nil
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalizeKey(key)]
	return ok
}

// Keys returns the registered keys in order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
