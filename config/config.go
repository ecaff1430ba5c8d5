package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Arena    ArenaConfig    `mapstructure:"arena"`
	Planner  PlannerConfig  `mapstructure:"planner"`
	Security SecurityConfig `mapstructure:"security"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

type ServerConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // memory | sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type ArenaConfig struct {
	LayoutDir     string `mapstructure:"layout_dir"`
	DefaultWidth  int    `mapstructure:"default_width"`
	DefaultHeight int    `mapstructure:"default_height"`
	// Inflation grows every observed obstacle by this many cells (Chebyshev).
	Inflation int `mapstructure:"inflation"`
	// SharedAnnotations stores team annotations in the cache instead of memory.
	SharedAnnotations bool `mapstructure:"shared_annotations"`
}

type PlannerConfig struct {
	Heuristic        string  `mapstructure:"heuristic"` // octile | euclidean
	RecomputeEvery   int     `mapstructure:"recompute_every"`
	ArrivalTolerance float64 `mapstructure:"arrival_tolerance"`
	// RecordBuffer is the queue size of the route outcome log.
	RecordBuffer int `mapstructure:"record_buffer"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// AdminIPs lists the addresses or CIDR prefixes allowed to issue tokens
	// and destroy arenas. Empty allows every address.
	AdminIPs []string `mapstructure:"admin_ips"`
}

type SnapshotConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Keep     int           `mapstructure:"keep"`
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration Load produces for an empty file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/arenanav.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("arena.layout_dir", "./data/arenas")
	v.SetDefault("arena.default_width", 720)
	v.SetDefault("arena.default_height", 480)
	v.SetDefault("arena.inflation", 0)
	v.SetDefault("planner.heuristic", "octile")
	v.SetDefault("planner.recompute_every", 0)
	v.SetDefault("planner.arrival_tolerance", 1e-9)
	v.SetDefault("planner.record_buffer", 1024)
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("security.admin_ips", []string{"127.0.0.1", "::1"})
	v.SetDefault("snapshot.interval", "1m")
	v.SetDefault("snapshot.keep", 10)
}
