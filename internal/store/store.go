// Package store implements the Session Persistence Adapter (C11): writes
// completed matches and player stat deltas to a relational store, with
// retry on transient failure, and an optional Redis-backed cache for rate
// counters and session hints that falls back to an in-process map. Grounded
// on the teacher's repository-over-pgxpool pattern (plain SQL, no ORM; each
// statement runs on its own, outside any transaction) from the retrieval
// pack, generalized from a
// single-table repository to the two operations spec §4.11 names.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/headsoccer/matchserver/internal/config"
	"github.com/headsoccer/matchserver/internal/domain"
)

// Store is the C11 contract consumed by gameend.Processor. The Cache
// abstraction it defines is wired elsewhere (events.RateLimiter and
// conn.Manager), not held here: SaveMatch/UpdatePlayerStats only ever talk
// to pool.
type Store struct {
	pool *pgxpool.Pool
	cfg  config.GameEndConfig
	log  zerolog.Logger
}

func New(pool *pgxpool.Pool, cfg config.GameEndConfig, log zerolog.Logger) *Store {
	return &Store{pool: pool, cfg: cfg, log: log.With().Str("component", "session_store").Logger()}
}

// SaveMatch inserts one row into the games table, retrying transient
// errors with exponential backoff (spec §4.11: base 1s, up to MaxRetries).
func (s *Store) SaveMatch(ctx context.Context, result domain.Result) error {
	var lastErr error
	delay := s.cfg.RetryBaseDelay

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		_, err := s.pool.Exec(ctx, `
INSERT INTO games (room_id, mode, started_at, ended_at, duration_ms, reason, winner,
                    left_player_id, right_player_id, left_score, right_score,
                    average_elo, elo_difference)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (room_id) DO NOTHING;
`,
			result.RoomID, string(result.Mode), result.Start, result.End, result.Duration.Milliseconds(),
			string(result.Reason), string(result.Winner),
			result.Players[0].PlayerID, result.Players[1].PlayerID,
			result.Players[0].FinalScore, result.Players[1].FinalScore,
			result.AverageElo, result.EloDifference,
		)
		if err == nil {
			return nil
		}
		lastErr = err
		s.log.Warn().Err(err).Int("attempt", attempt).Str("room_id", result.RoomID).Msg("save_match retry")
	}

	s.log.Error().Err(lastErr).Str("room_id", result.RoomID).Msg("save_match gave up after retry budget")
	return lastErr
}

// UpdatePlayerStats upserts per-player cumulative counters (spec §4.11).
// Idempotency is not required: callers must invoke this at most once per
// completed match.
func (s *Store) UpdatePlayerStats(ctx context.Context, result domain.Result) error {
	for i, pr := range result.Players {
		won, lost, drawn := 0, 0, 0
		switch pr.Outcome {
		case domain.ResultWin:
			won = 1
		case domain.ResultLoss:
			lost = 1
		case domain.ResultDraw:
			drawn = 1
		}
		goalsScored := pr.FinalScore
		goalsConceded := result.Players[1-i].FinalScore

		_, err := s.pool.Exec(ctx, `
INSERT INTO player_stats (player_id, games_played, games_won, games_lost, games_drawn,
                           goals_scored, goals_conceded, total_playtime_ms, last_played,
                           current_win_streak, best_win_streak, rating)
VALUES ($1, 1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $10)
ON CONFLICT (player_id) DO UPDATE SET
  games_played = player_stats.games_played + 1,
  games_won = player_stats.games_won + $2,
  games_lost = player_stats.games_lost + $3,
  games_drawn = player_stats.games_drawn + $4,
  goals_scored = player_stats.goals_scored + $5,
  goals_conceded = player_stats.goals_conceded + $6,
  total_playtime_ms = player_stats.total_playtime_ms + $7,
  last_played = $8,
  current_win_streak = CASE WHEN $2 = 1 THEN player_stats.current_win_streak + 1 ELSE 0 END,
  best_win_streak = GREATEST(player_stats.best_win_streak, CASE WHEN $2 = 1 THEN player_stats.current_win_streak + 1 ELSE 0 END),
  rating = $10;
`,
			pr.PlayerID, won, lost, drawn, goalsScored, goalsConceded,
			result.Duration.Milliseconds(), result.End, won, pr.RatingAfter,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// Cache is the optional key-value store named in spec §1 ("used only as an
// optional store for rate counters and session hints"). Its concrete
// implementations are RedisCache and MemoryCache, selected at wiring time
// depending on whether REDIS_URL is configured.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RedisCache is the Cache backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && ttl > 0 {
		c.client.Expire(ctx, key, ttl)
	}
	return n, nil
}

// MemoryCache is the in-process fallback Cache used when no Redis URL is
// configured.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
}

type memoryItem struct {
	value   string
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem)}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok || (!item.expires.IsZero() && time.Now().After(item.expires)) {
		return "", false, nil
	}
	return item.value, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	c.items[key] = memoryItem{value: value, expires: expires}
	return nil
}

func (c *MemoryCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok || (!item.expires.IsZero() && time.Now().After(item.expires)) {
		var expires time.Time
		if ttl > 0 {
			expires = time.Now().Add(ttl)
		}
		c.items[key] = memoryItem{value: "1", expires: expires}
		return 1, nil
	}
	n := parseCount(item.value) + 1
	item.value = formatCount(n)
	c.items[key] = item
	return n, nil
}

func parseCount(s string) int64 {
	var n int64
	_ = json.Unmarshal([]byte(s), &n)
	return n
}

func formatCount(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
