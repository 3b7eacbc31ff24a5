// Package config loads server configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Physics / field constants. These must match the client exactly for
// deterministic physics, so they are compile-time constants rather than
// environment-tunable.
const (
	FieldWidth  = 1600.0
	FieldHeight = 900.0
	GroundGap   = 20.0

	BallRadius    = 25.0
	PlayerWidth   = 50.0
	PlayerHeight  = 80.0
	PlayerHalfW   = PlayerWidth / 2.0

	Gravity       = 0.5
	PlayerSpeed   = 6.0
	FrictionCoeff = 0.85
	JumpImpulse   = 12.0

	BallBounce     = 0.95
	CollisionBounce = 1.1
	KickCooldownTicks = 18 // 0.3s at 60Hz

	GoalMouthHeight = 200.0

	PhysicsTickRate   = 60 // Hz, authoritative simulation rate
	BroadcastDivisor  = 3  // snapshot every third tick -> 20Hz
)

// Config is the full set of environment-tunable knobs named in spec §6.
// Each sub-struct corresponds to one component's configuration block.
type Config struct {
	Host       string `env:"HOST" envDefault:"0.0.0.0"`
	Port       int    `env:"PORT" envDefault:"8080"`
	EnableCORS bool   `env:"ENABLE_CORS" envDefault:"true"`

	DatabaseURL string `env:"DATABASE_URL" envDefault:""`
	RedisURL    string `env:"REDIS_URL" envDefault:""`

	Matchmaker    MatchmakerConfig
	Connection    ConnectionConfig
	EventPipeline EventPipelineConfig
	Room          RoomConfig
	GameEnd       GameEndConfig
}

// MatchmakerConfig tunes C6's queue and pairing behavior.
type MatchmakerConfig struct {
	MaxQueueSize           int           `env:"MM_MAX_QUEUE_SIZE" envDefault:"10000"`
	MaxWaitTime            time.Duration `env:"MM_MAX_WAIT_TIME" envDefault:"120s"`
	SkillTolerance         int           `env:"MM_SKILL_TOLERANCE" envDefault:"200"`
	SkillToleranceIncrease int           `env:"MM_SKILL_TOLERANCE_INCREASE" envDefault:"25"`
	ToleranceStep          time.Duration `env:"MM_TOLERANCE_STEP" envDefault:"30s"`
	MaxConcurrentRooms     int           `env:"MM_MAX_CONCURRENT_ROOMS" envDefault:"5000"`
	ReadyUpWindow          time.Duration `env:"MM_READY_UP_WINDOW" envDefault:"10s"`
}

// ConnectionConfig tunes C4's socket lifecycle.
type ConnectionConfig struct {
	HeartbeatInterval time.Duration `env:"CONN_HEARTBEAT_INTERVAL" envDefault:"30s"`
	ConnectionTimeout time.Duration `env:"CONN_TIMEOUT" envDefault:"60s"`
	MaxConnections    int           `env:"CONN_MAX_CONNECTIONS" envDefault:"20000"`
	ReconnectGrace    time.Duration `env:"CONN_RECONNECT_GRACE" envDefault:"10s"`
}

// EventPipelineConfig tunes C5's queues and rate limits.
type EventPipelineConfig struct {
	QueueCap              int `env:"EVENTS_QUEUE_CAP" envDefault:"4096"`
	DefaultPlayerRateLimit int `env:"EVENTS_DEFAULT_RATE_LIMIT" envDefault:"30"` // events/sec; not read: per-type rates come from events.Registry
}

// RoomConfig tunes C8's tick loop and per-mode limits.
type RoomConfig struct {
	TickRate     int           `env:"ROOM_TICK_RATE" envDefault:"60"` // not read: the tick loop runs at PhysicsTickRate
	GoalCooldown time.Duration `env:"ROOM_GOAL_COOLDOWN" envDefault:"3s"`
	PauseTimeout time.Duration `env:"ROOM_PAUSE_TIMEOUT" envDefault:"30s"`
}

// GameEndConfig tunes C10's choreography and C11's retry budget.
type GameEndConfig struct {
	PostGameDelay      time.Duration `env:"GAMEEND_POST_GAME_DELAY" envDefault:"5s"`
	CleanupDelay       time.Duration `env:"GAMEEND_CLEANUP_DELAY" envDefault:"2s"`
	CelebrationDelay   time.Duration `env:"GAMEEND_CELEBRATION_DELAY" envDefault:"500ms"`
	CelebrationDuration time.Duration `env:"GAMEEND_CELEBRATION_DURATION" envDefault:"3s"`
	MaxRetries         int           `env:"GAMEEND_MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay     time.Duration `env:"GAMEEND_RETRY_BASE_DELAY" envDefault:"1s"`
}

// ScoreLimitForMode returns the goal count that ends a match for mode, or 0
// if the mode has no score limit (tournament plays to time limit only).
func ScoreLimitForMode(mode string) int {
	switch mode {
	case ModeRanked:
		return 5
	case ModeTournament:
		return 0
	default:
		return 3
	}
}

// TimeLimitForMode returns the wall-clock match duration for mode.
func TimeLimitForMode(mode string) time.Duration {
	switch mode {
	case ModeRanked:
		return 600 * time.Second
	case ModeTournament:
		return 900 * time.Second
	default:
		return 300 * time.Second
	}
}

// Game mode identifiers, duplicated here (rather than importing domain) so
// config has no dependency on the rest of the module.
const (
	ModeCasual     = "casual"
	ModeRanked     = "ranked"
	ModeTournament = "tournament"
)

// Load reads configuration from the environment, loading a local .env file
// first when present (godotenv.Load is a no-op if the file is absent).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
