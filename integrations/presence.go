package integrations

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// PresenceQuery reports whether a named external system is loaded.
type PresenceQuery interface {
	Lookup(ctx context.Context, name string) (SystemInfo, bool)
}

// StaticPresence is an in-process presence table. Names are case-insensitive.
type StaticPresence struct {
	mu      sync.RWMutex
	systems map[string]SystemInfo
}

func NewStaticPresence(systems ...SystemInfo) *StaticPresence {
	p := &StaticPresence{systems: map[string]SystemInfo{}}
	for _, s := range systems {
		p.Set(s)
	}
	return p
}

// Set announces or replaces a system.
func (p *StaticPresence) Set(info SystemInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.systems[strings.ToLower(info.Name)] = info
}

// Remove forgets a system.
func (p *StaticPresence) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.systems, strings.ToLower(name))
}

func (p *StaticPresence) Lookup(_ context.Context, name string) (SystemInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info, ok := p.systems[strings.ToLower(name)]
	return info, ok
}

// RedisPresence reads system announcements from Redis hashes.
// Data structure:
// - system:{name} -> hash {enabled: "1"|"true", version: string, authors: comma separated}
type RedisPresence struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client, log: slog.Default()}
}

func systemKey(name string) string {
	return "system:" + strings.ToLower(name)
}

func (p *RedisPresence) Lookup(ctx context.Context, name string) (SystemInfo, bool) {
	fields, err := p.client.HGetAll(ctx, systemKey(name)).Result()
	if err != nil {
		p.log.Debug("presence lookup failed", "system", name, "error", err)
		return SystemInfo{}, false
	}
	if len(fields) == 0 {
		return SystemInfo{}, false
	}
	info := SystemInfo{Name: name, Version: fields["version"]}
	info.Enabled, _ = strconv.ParseBool(fields["enabled"])
	for _, a := range strings.Split(fields["authors"], ",") {
		if a = strings.TrimSpace(a); a != "" {
			info.Authors = append(info.Authors, a)
		}
	}
	return info, true
}

// Announce publishes info so other processes can find it.
func (p *RedisPresence) Announce(ctx context.Context, info SystemInfo) error {
	return p.client.HSet(ctx, systemKey(info.Name),
		"enabled", strconv.FormatBool(info.Enabled),
		"version", info.Version,
		"authors", strings.Join(info.Authors, ","),
	).Err()
}

// Withdraw removes the announcement for name.
func (p *RedisPresence) Withdraw(ctx context.Context, name string) error {
	return p.client.Del(ctx, systemKey(name)).Err()
}
