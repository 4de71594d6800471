// Package rewards holds reward definitions and resolves them by id.
//
// Definitions are registered as raw YAML during configuration load and decoded
// on first lookup. Decoded definitions are memoised in an LRU so repeated tier
// renders do not re-decode the same node.
package rewards

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"passkit/metrics"
)

// DefaultSize bounds the number of decoded definitions kept in memory.
const DefaultSize = 1024

// Definition describes a reward. Payload is specific to the reward type and
// is not interpreted by the engine.
type Definition struct {
	ID        string         `yaml:"-" json:"id"`
	Type      string         `yaml:"type" json:"type" validate:"required"`
	LoreAddon []string       `yaml:"lore-addon" json:"lore_addon,omitempty"`
	Payload   map[string]any `yaml:"payload" json:"payload,omitempty"`
}

// Cache maps reward ids to definitions.
type Cache struct {
	mu       sync.RWMutex
	raw      map[string]*yaml.Node
	resolved *lru.Cache[string, Definition]
	// broken records ids that failed to decode so they are logged once.
	broken   map[string]struct{}
	validate *validator.Validate
	log      *slog.Logger
	// decoded runs between decode and memoisation; tests use it to interleave reloads.
	decoded func(id string)
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger overrides the logger (defaults to slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates an empty cache holding at most size decoded definitions.
func New(size int, opts ...Option) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	resolved, err := lru.New[string, Definition](size)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	c := &Cache{
		raw:      map[string]*yaml.Node{},
		resolved: resolved,
		broken:   map[string]struct{}{},
		validate: validator.New(),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Load reads a rewards file and registers every entry under its key.
func Load(path string, size int, opts ...Option) (*Cache, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rewards %s: %w", path, err)
	}
	c := New(size, opts...)
	if err := c.LoadYAML(b); err != nil {
		return nil, fmt.Errorf("parse rewards %s: %w", path, err)
	}
	return c, nil
}

// LoadYAML registers the entries of a YAML mapping of id -> definition.
// An optional top-level "rewards" key is unwrapped.
func (c *Cache) LoadYAML(b []byte) error {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return err
	}
	if inner, ok := doc["rewards"]; ok && len(doc) == 1 {
		doc = nil
		if err := inner.Decode(&doc); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, node := range doc {
		n := node
		c.raw[id] = &n
		c.resolved.Remove(id)
		delete(c.broken, id)
	}
	return nil
}

// Put registers an already decoded definition.
func (c *Cache) Put(def Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.raw, def.ID)
	delete(c.broken, def.ID)
	c.resolved.Add(def.ID, def)
	// keep a raw copy so eviction does not lose programmatic entries
	var node yaml.Node
	if err := node.Encode(def); err == nil {
		c.raw[def.ID] = &node
	}
}

// Get returns the definition for id. Unknown or malformed ids are misses.
func (c *Cache) Get(id string) (Definition, bool) {
	if def, ok := c.resolved.Get(id); ok {
		metrics.RewardLookups.WithLabelValues("hit").Inc()
		return def, true
	}
	c.mu.RLock()
	node, ok := c.raw[id]
	c.mu.RUnlock()
	if !ok {
		metrics.RewardLookups.WithLabelValues("miss").Inc()
		return Definition{}, false
	}
	def, err := c.decode(id, node)
	if c.decoded != nil {
		c.decoded(id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// a reload since the read replaced node; memoising would resurrect it
	current := c.raw[id] == node
	if err != nil {
		if _, seen := c.broken[id]; !seen && current {
			c.broken[id] = struct{}{}
			c.log.Warn("skipping malformed reward", "reward_id", id, "error", err)
		}
		metrics.RewardLookups.WithLabelValues("invalid").Inc()
		return Definition{}, false
	}
	if current {
		c.resolved.Add(id, def)
	}
	metrics.RewardLookups.WithLabelValues("resolved").Inc()
	return def, true
}

// IDs returns the registered reward ids.
func (c *Cache) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.raw))
	for id := range c.raw {
		ids = append(ids, id)
	}
	return ids
}

func (c *Cache) decode(id string, node *yaml.Node) (Definition, error) {
	var def Definition
	if err := node.Decode(&def); err != nil {
		return Definition{}, err
	}
	def.ID = id
	if err := c.validate.Struct(def); err != nil {
		return Definition{}, err
	}
	return def, nil
}
