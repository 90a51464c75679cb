package config

import (
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Lobby    LobbyConfig    `mapstructure:"lobby"`
	Game     GameConfig     `mapstructure:"game"`
}

type ServerConfig struct {
	HTTPAddress    string `mapstructure:"http_address"`
	RPCAddress     string `mapstructure:"rpc_address"`
	MetricsAddress string `mapstructure:"metrics_address"`
	JWTSecret      string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"` // "gorm" or "pq"
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// LobbyConfig controls matchmaking and the entry-fee economics.
type LobbyConfig struct {
	// Mode selects the matchmaking policy: "reservation" queues players
	// behind a countdown with an entry fee, "instant" seats them into the
	// first open room and funds orbs from reported ad revenue.
	Mode             string  `mapstructure:"mode"`
	EntryFee         float64 `mapstructure:"entry_fee"`
	CountdownSeconds int     `mapstructure:"countdown_seconds"`
	MaxPlayers       int     `mapstructure:"max_players"`
	MinPlayers       int     `mapstructure:"min_players"`
	MinAdRevenue     float64 `mapstructure:"min_ad_revenue"`
	MaxAdRevenue     float64 `mapstructure:"max_ad_revenue"`
}

// GameConfig holds per-room simulation tuning. Collision radii and the
// thickness curve are balance knobs, not correctness constants.
type GameConfig struct {
	WorldSize         float64 `mapstructure:"world_size"`
	FoodCount         int     `mapstructure:"food_count"`
	FoodRadius        float64 `mapstructure:"food_radius"`
	SegmentRadius     float64 `mapstructure:"segment_radius"`
	InitialLength     int     `mapstructure:"initial_length"`
	MinLength         int     `mapstructure:"min_length"`
	TickHz            int     `mapstructure:"tick_hz"`
	MaxDeltaFactor    float64 `mapstructure:"max_delta_factor"`
	TurnRate          float64 `mapstructure:"turn_rate"`
	BaseSpeed         float64 `mapstructure:"base_speed"`
	BoostMultiplier   float64 `mapstructure:"boost_multiplier"`
	BoostCostTicks    int     `mapstructure:"boost_cost_ticks"`
	GrowthPerFood     int     `mapstructure:"growth_per_food"`
	SafeSpawnDistance float64 `mapstructure:"safe_spawn_distance"`
	SpawnAttempts     int     `mapstructure:"spawn_attempts"`
	ThicknessFactor   float64 `mapstructure:"thickness_factor"`
	HeadToHeadFactor  float64 `mapstructure:"head_to_head_factor"`
	OrbBaseRadius     float64 `mapstructure:"orb_base_radius"`
	OrbRadiusPerLog   float64 `mapstructure:"orb_radius_per_log"`
	DropFraction      float64 `mapstructure:"drop_fraction"`
	ScatterFraction   float64 `mapstructure:"scatter_fraction"`
	MaxDropOrbs       int     `mapstructure:"max_drop_orbs"`
	MaxScatterOrbs    int     `mapstructure:"max_scatter_orbs"`
	PointsPerUnit     int64   `mapstructure:"points_per_unit"`
	LeaderboardSize   int     `mapstructure:"leaderboard_size"`
	// TrustClientSegments enables the legacy client-reported-position mode.
	// Insecure; kept only for load testing against old clients.
	TrustClientSegments bool `mapstructure:"trust_client_segments"`
}

func setDefaults() {
	viper.SetDefault("server.http_address", ":8080")
	viper.SetDefault("server.rpc_address", ":8081")
	viper.SetDefault("server.metrics_address", ":9100")
	viper.SetDefault("server.jwt_secret", "")

	viper.SetDefault("database.driver", "gorm")
	viper.SetDefault("database.postgres.host", "localhost")
	viper.SetDefault("database.postgres.port", 5432)
	viper.SetDefault("database.postgres.user", "postgres")
	viper.SetDefault("database.postgres.password", "postgres")
	viper.SetDefault("database.postgres.dbname", "snaked")

	viper.SetDefault("lobby.mode", "reservation")
	viper.SetDefault("lobby.entry_fee", 0.5)
	viper.SetDefault("lobby.countdown_seconds", 60)
	viper.SetDefault("lobby.max_players", 50)
	viper.SetDefault("lobby.min_players", 2)
	viper.SetDefault("lobby.min_ad_revenue", 0.001)
	viper.SetDefault("lobby.max_ad_revenue", 0.05)

	viper.SetDefault("game.world_size", 4000.0)
	viper.SetDefault("game.food_count", 300)
	viper.SetDefault("game.food_radius", 8.0)
	viper.SetDefault("game.segment_radius", 12.0)
	viper.SetDefault("game.initial_length", 10)
	viper.SetDefault("game.min_length", 3)
	viper.SetDefault("game.tick_hz", 20)
	viper.SetDefault("game.max_delta_factor", 3.0)
	viper.SetDefault("game.turn_rate", 0.25)
	viper.SetDefault("game.base_speed", 160.0)
	viper.SetDefault("game.boost_multiplier", 1.8)
	viper.SetDefault("game.boost_cost_ticks", 10)
	viper.SetDefault("game.growth_per_food", 2)
	viper.SetDefault("game.safe_spawn_distance", 200.0)
	viper.SetDefault("game.spawn_attempts", 20)
	viper.SetDefault("game.thickness_factor", 1.5)
	viper.SetDefault("game.head_to_head_factor", 0.9)
	viper.SetDefault("game.orb_base_radius", 10.0)
	viper.SetDefault("game.orb_radius_per_log", 4.0)
	viper.SetDefault("game.drop_fraction", 0.5)
	viper.SetDefault("game.scatter_fraction", 0.3)
	viper.SetDefault("game.max_drop_orbs", 20)
	viper.SetDefault("game.max_scatter_orbs", 10)
	viper.SetDefault("game.points_per_unit", 10000)
	viper.SetDefault("game.leaderboard_size", 10)
	viper.SetDefault("game.trust_client_segments", false)
}

func LoadConfig(path string) (config *Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	setDefaults()
	viper.AutomaticEnv()

	err = viper.ReadInConfig()
	if err != nil {
		// Defaults cover every key; only a broken file is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	err = viper.Unmarshal(&config)
	return
}

// DefaultGame returns the default simulation tuning without touching the
// global viper state. Used by tests.
func DefaultGame() GameConfig {
	return GameConfig{
		WorldSize:         4000,
		FoodCount:         300,
		FoodRadius:        8,
		SegmentRadius:     12,
		InitialLength:     10,
		MinLength:         3,
		TickHz:            20,
		MaxDeltaFactor:    3,
		TurnRate:          0.25,
		BaseSpeed:         160,
		BoostMultiplier:   1.8,
		BoostCostTicks:    10,
		GrowthPerFood:     2,
		SafeSpawnDistance: 200,
		SpawnAttempts:     20,
		ThicknessFactor:   1.5,
		HeadToHeadFactor:  0.9,
		OrbBaseRadius:     10,
		OrbRadiusPerLog:   4,
		DropFraction:      0.5,
		ScatterFraction:   0.3,
		MaxDropOrbs:       20,
		MaxScatterOrbs:    10,
		PointsPerUnit:     10000,
		LeaderboardSize:   10,
	}
}

// DefaultLobby mirrors the lobby defaults for tests.
func DefaultLobby() LobbyConfig {
	return LobbyConfig{
		Mode:             "reservation",
		EntryFee:         0.5,
		CountdownSeconds: 60,
		MaxPlayers:       50,
		MinPlayers:       2,
		MinAdRevenue:     0.001,
		MaxAdRevenue:     0.05,
	}
}
