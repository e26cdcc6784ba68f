// Package config loads server configuration from YAML and ARENA_ environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cardarena/arena-server-go/internal/game"
	"github.com/cardarena/arena-server-go/internal/matchmaking"
	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Matchmaking MatchmakingConfig `mapstructure:"matchmaking"`
	Match       MatchConfig       `mapstructure:"match"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Replay      ReplayConfig      `mapstructure:"replay"`
}

type ServerConfig struct {
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
}

type WebSocketConfig struct {
	Address    string        `mapstructure:"address"`
	Path       string        `mapstructure:"path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
}

type GRPCConfig struct {
	Address              string `mapstructure:"address"`
	MaxConcurrentStreams int    `mapstructure:"max_concurrent_streams"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig configures the Postgres pool. An empty URL selects the
// in-memory queue and player stores.
type DatabaseConfig struct {
	URL         string        `mapstructure:"url"`
	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	ConnTimeout time.Duration `mapstructure:"conn_timeout"`
}

// RedisConfig configures the snapshot cache. An empty Addr disables it.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

// CatalogConfig selects where card and arena definitions come from.
type CatalogConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	File   string `mapstructure:"file"`
}

type AuthConfig struct {
	JWTSecret         string `mapstructure:"jwt_secret"`
	JWTIssuer         string `mapstructure:"jwt_issuer"`
	AdminPasswordHash string `mapstructure:"admin_password_hash"`
}

type MatchmakingConfig struct {
	Modes             map[string]int `mapstructure:"modes"`
	BaseTolerance     int            `mapstructure:"base_tolerance"`
	ToleranceStep     int            `mapstructure:"tolerance_step"`
	ToleranceInterval time.Duration  `mapstructure:"tolerance_interval"`
	MaxTolerance      int            `mapstructure:"max_tolerance"`
	TickInterval      time.Duration  `mapstructure:"tick_interval"`
}

type PhaseConfig struct {
	Draw   time.Duration `mapstructure:"draw"`
	Main   time.Duration `mapstructure:"main"`
	Combat time.Duration `mapstructure:"combat"`
	End    time.Duration `mapstructure:"end"`
}

type MatchConfig struct {
	ReadyGrace           time.Duration `mapstructure:"ready_grace"`
	Phase                PhaseConfig   `mapstructure:"phase"`
	PlayWindow           time.Duration `mapstructure:"play_window"`
	ReconnectGrace       time.Duration `mapstructure:"reconnect_grace"`
	TickInterval         time.Duration `mapstructure:"tick_interval"`
	StartingHealth       int           `mapstructure:"starting_health"`
	MaxEnergy            int           `mapstructure:"max_energy"`
	EnergyPerTurn        int           `mapstructure:"energy_per_turn"`
	ManaPerTurn          int           `mapstructure:"mana_per_turn"`
	MaxMana              int           `mapstructure:"max_mana"`
	OpeningHand          int           `mapstructure:"opening_hand"`
	MaxHand              int           `mapstructure:"max_hand"`
	AutoPassForfeitTurns int           `mapstructure:"auto_pass_forfeit_turns"`
	FirstPlayer          string        `mapstructure:"first_player"`
	RatingK              int           `mapstructure:"rating_k"`
	Arenas               []string      `mapstructure:"arenas"`
	MaxTurns             int           `mapstructure:"max_turns"`
	IOTimeout            time.Duration `mapstructure:"io_timeout"`
}

type PersistenceConfig struct {
	RetryBase     time.Duration `mapstructure:"retry_base"`
	RetryMax      time.Duration `mapstructure:"retry_max"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// ReplayConfig selects the replay archive. A bucket takes precedence over
// the directory.
type ReplayConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Dir     string   `mapstructure:"dir"`
	S3      S3Config `mapstructure:"s3"`
}

// Load reads the YAML file at path, if any, and applies ARENA_ environment
// overrides (ARENA_MATCH_PHASE_MAIN=45s and so on).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.websocket.address", ":8080")
	v.SetDefault("server.websocket.path", "/ws")
	v.SetDefault("server.websocket.read_limit", 65536)
	v.SetDefault("server.websocket.write_wait", "10s")
	v.SetDefault("server.websocket.pong_wait", "60s")
	v.SetDefault("server.websocket.send_buffer", 256)
	v.SetDefault("server.grpc.address", ":9090")
	v.SetDefault("server.grpc.max_concurrent_streams", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.conn_timeout", "5s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.snapshot_ttl", "10m")

	v.SetDefault("catalog.driver", "file")
	v.SetDefault("catalog.dsn", "")
	v.SetDefault("catalog.file", "config/catalog.json")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "arena")
	v.SetDefault("auth.admin_password_hash", "")

	policy := matchmaking.DefaultPolicy()
	v.SetDefault("matchmaking.modes", map[string]int{"1v1": 2})
	v.SetDefault("matchmaking.base_tolerance", policy.Base)
	v.SetDefault("matchmaking.tolerance_step", policy.Step)
	v.SetDefault("matchmaking.tolerance_interval", policy.Interval.String())
	v.SetDefault("matchmaking.max_tolerance", policy.Max)
	v.SetDefault("matchmaking.tick_interval", "1s")

	rules := game.DefaultRules()
	v.SetDefault("match.ready_grace", rules.ReadyGrace.String())
	v.SetDefault("match.phase.draw", rules.DrawPhase.String())
	v.SetDefault("match.phase.main", rules.MainPhase.String())
	v.SetDefault("match.phase.combat", rules.CombatPhase.String())
	v.SetDefault("match.phase.end", rules.EndPhase.String())
	v.SetDefault("match.play_window", rules.PlayWindow.String())
	v.SetDefault("match.reconnect_grace", rules.ReconnectGrace.String())
	v.SetDefault("match.tick_interval", rules.TickInterval.String())
	v.SetDefault("match.starting_health", rules.StartingHealth)
	v.SetDefault("match.max_energy", rules.MaxEnergy)
	v.SetDefault("match.energy_per_turn", rules.EnergyPerTurn)
	v.SetDefault("match.mana_per_turn", rules.ManaPerTurn)
	v.SetDefault("match.max_mana", rules.MaxMana)
	v.SetDefault("match.opening_hand", rules.OpeningHand)
	v.SetDefault("match.max_hand", rules.MaxHand)
	v.SetDefault("match.auto_pass_forfeit_turns", rules.AutoPassForfeitTurns)
	v.SetDefault("match.first_player", rules.FirstPlayer)
	v.SetDefault("match.rating_k", rules.RatingK)
	v.SetDefault("match.arenas", []string{"volcano", "glacier", "grove", "colosseum"})
	v.SetDefault("match.max_turns", rules.MaxTurns)
	v.SetDefault("match.io_timeout", "5s")

	v.SetDefault("persistence.retry_base", "1s")
	v.SetDefault("persistence.retry_max", "5m")
	v.SetDefault("persistence.max_attempts", 8)
	v.SetDefault("persistence.sweep_interval", "1s")

	v.SetDefault("replay.enabled", true)
	v.SetDefault("replay.dir", "replays")
	v.SetDefault("replay.s3.bucket", "")
	v.SetDefault("replay.s3.region", "auto")
	v.SetDefault("replay.s3.endpoint", "")
	v.SetDefault("replay.s3.access_key_id", "")
	v.SetDefault("replay.s3.secret_access_key", "")
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	ws := c.Server.WebSocket
	if ws.Address == "" || !strings.HasPrefix(ws.Path, "/") {
		return fmt.Errorf("websocket address and path are required")
	}
	if ws.ReadLimit <= 0 || ws.WriteWait <= 0 || ws.PongWait <= 0 || ws.SendBuffer <= 0 {
		return fmt.Errorf("websocket limits must be positive")
	}
	if c.Server.GRPC.Address == "" || c.Server.GRPC.MaxConcurrentStreams <= 0 {
		return fmt.Errorf("grpc address and max_concurrent_streams are required")
	}
	switch c.Catalog.Driver {
	case "file":
		if c.Catalog.File == "" {
			return fmt.Errorf("catalog.file is required for the file driver")
		}
	case "sqlite3", "pgx":
		if c.Catalog.DSN == "" {
			return fmt.Errorf("catalog.dsn is required for the %s driver", c.Catalog.Driver)
		}
	default:
		return fmt.Errorf("unknown catalog driver %q", c.Catalog.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Database.URL != "" && (c.Database.MaxConns <= 0 || c.Database.MinConns > c.Database.MaxConns) {
		return fmt.Errorf("invalid database pool size %d..%d", c.Database.MinConns, c.Database.MaxConns)
	}
	if c.Redis.Addr != "" && c.Redis.SnapshotTTL <= 0 {
		return fmt.Errorf("redis.snapshot_ttl must be positive")
	}

	if len(c.Matchmaking.Modes) == 0 {
		return fmt.Errorf("at least one matchmaking mode is required")
	}
	for mode, size := range c.Matchmaking.Modes {
		if size < 2 {
			return fmt.Errorf("mode %q needs at least 2 players, got %d", mode, size)
		}
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("matchmaking: %w", err)
	}
	if c.Matchmaking.TickInterval <= 0 {
		return fmt.Errorf("matchmaking.tick_interval must be positive")
	}
	if err := c.Rules().Validate(); err != nil {
		return fmt.Errorf("match: %w", err)
	}
	if c.Match.IOTimeout <= 0 {
		return fmt.Errorf("match.io_timeout must be positive")
	}

	p := c.Persistence
	if p.RetryBase <= 0 || p.RetryMax < p.RetryBase || p.MaxAttempts <= 0 || p.SweepInterval <= 0 {
		return fmt.Errorf("invalid persistence retry settings")
	}
	if c.Replay.Enabled && c.Replay.S3.Bucket == "" && c.Replay.Dir == "" {
		return fmt.Errorf("replay archive needs a directory or an s3 bucket")
	}
	return nil
}

// Rules converts the match section into game rules.
func (c *Config) Rules() game.Rules {
	m := c.Match
	return game.Rules{
		StartingHealth:       m.StartingHealth,
		MaxEnergy:            m.MaxEnergy,
		EnergyPerTurn:        m.EnergyPerTurn,
		MaxMana:              m.MaxMana,
		ManaPerTurn:          m.ManaPerTurn,
		OpeningHand:          m.OpeningHand,
		MaxHand:              m.MaxHand,
		DrawPhase:            m.Phase.Draw,
		MainPhase:            m.Phase.Main,
		CombatPhase:          m.Phase.Combat,
		EndPhase:             m.Phase.End,
		PlayWindow:           m.PlayWindow,
		ReadyGrace:           m.ReadyGrace,
		ReconnectGrace:       m.ReconnectGrace,
		TickInterval:         m.TickInterval,
		AutoPassForfeitTurns: m.AutoPassForfeitTurns,
		FirstPlayer:          m.FirstPlayer,
		RatingK:              m.RatingK,
		MaxTurns:             m.MaxTurns,
		Arenas:               append([]string(nil), m.Arenas...),
	}
}

// Policy converts the tolerance settings into a matchmaking policy.
func (c *Config) Policy() matchmaking.Policy {
	return matchmaking.Policy{
		Base:     c.Matchmaking.BaseTolerance,
		Step:     c.Matchmaking.ToleranceStep,
		Interval: c.Matchmaking.ToleranceInterval,
		Max:      c.Matchmaking.MaxTolerance,
	}
}
