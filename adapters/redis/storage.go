package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"passkit/core"
	"passkit/engine"
)

// Config holds Redis connection configuration. Env names are relative to
// the prefix the embedding config assigns.
type Config struct {
	Addr         string        `json:"addr" env:"ADDR"`
	Password     string        `json:"password,omitempty" env:"PASSWORD"`
	DB           int           `json:"db" env:"DB"`
	PoolSize     int           `json:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	// MaxRetries bounds optimistic transaction retries under contention.
	MaxRetries int `json:"max_retries" env:"MAX_RETRIES"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   100,
	}
}

// ErrContention is returned when an update lost the optimistic race too often.
var ErrContention = errors.New("redis: too much contention")

// Store implements engine.Storage on Redis.
// Data structure:
// - user:{user_id} -> JSON blob of core.User
// - user:{user_id}:quests -> hash quest_id -> JSON blob of core.QuestState
//
// Updates use WATCH/MULTI so concurrent writers never lose an update.
type Store struct {
	client     *redis.Client
	maxRetries int
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewWithClient(client)
	if config.MaxRetries > 0 {
		s.maxRetries = config.MaxRetries
	}
	return s, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, maxRetries: DefaultConfig().MaxRetries}
}

// Client exposes the underlying connection, e.g. for presence queries.
func (s *Store) Client() *redis.Client { return s.client }

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func userKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s", userID)
}

func userQuestsKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:quests", userID)
}

func (s *Store) GetUser(ctx context.Context, user core.UserID) (core.User, error) {
	return readUser(ctx, s.client, user)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readUser(ctx context.Context, c getter, user core.UserID) (core.User, error) {
	data, err := c.Get(ctx, userKey(user)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.User{}, core.ErrUserNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	var u core.User
	if err := json.Unmarshal(data, &u); err != nil {
		return core.User{}, fmt.Errorf("failed to decode user %s: %w", user, err)
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, user core.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	ok, err := s.client.SetNX(ctx, userKey(user.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if !ok {
		return core.ErrUserExists
	}
	return nil
}

// UpdateUser runs fn inside an optimistic transaction; fn may run again
// when another writer changed the user in between.
func (s *Store) UpdateUser(ctx context.Context, user core.UserID, fn func(*core.User) error) (core.User, error) {
	key := userKey(user)
	var out core.User
	err := s.optimistic(ctx, func(tx *redis.Tx) error {
		current, err := readUser(ctx, tx, user)
		if err != nil {
			return err
		}
		next := current.Clone()
		if err := fn(&next); err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode user: %w", err)
		}
		if _, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, 0)
			return nil
		}); err != nil {
			return err
		}
		out = next
		return nil
	}, key)
	return out, err
}

// UpdateQuest serializes writers on the user's quest hash.
func (s *Store) UpdateQuest(ctx context.Context, user core.UserID, questID string, fn func(*core.QuestState) error) (core.QuestState, error) {
	key := userQuestsKey(user)
	var out core.QuestState
	err := s.optimistic(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, userKey(user)).Result()
		if err != nil {
			return fmt.Errorf("failed to check user: %w", err)
		}
		if exists == 0 {
			return core.ErrUserNotFound
		}
		st := core.QuestState{QuestID: questID}
		raw, err := tx.HGet(ctx, key, questID).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("failed to get quest: %w", err)
		default:
			if err := json.Unmarshal(raw, &st); err != nil {
				return fmt.Errorf("failed to decode quest %s: %w", questID, err)
			}
		}
		if err := fn(&st); err != nil {
			return err
		}
		st.Updated = time.Now().UTC()
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to encode quest: %w", err)
		}
		if _, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, questID, data)
			return nil
		}); err != nil {
			return err
		}
		out = st
		return nil
	}, key, userKey(user))
	return out, err
}

func (s *Store) GetQuests(ctx context.Context, user core.UserID) (map[string]core.QuestState, error) {
	if _, err := s.GetUser(ctx, user); err != nil {
		return nil, err
	}
	raw, err := s.client.HGetAll(ctx, userQuestsKey(user)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get quests: %w", err)
	}
	out := make(map[string]core.QuestState, len(raw))
	for id, data := range raw {
		var st core.QuestState
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			continue // Skip invalid entries
		}
		out[id] = st
	}
	return out, nil
}

// optimistic retries fn while the watched keys change under it.
func (s *Store) optimistic(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrContention
}

var _ engine.Storage = (*Store)(nil)
