package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/lanparty/server/internal/domain"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	// ReadLimit caps one inbound frame; video frames arrive as data URIs, so
	// this is generous by default.
	ReadLimit  int64 `mapstructure:"read_limit"`
	SendBuffer int   `mapstructure:"send_buffer"`

	HeartbeatSweep   time.Duration `mapstructure:"heartbeat_sweep"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`

	World domain.World `mapstructure:"world"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./public")
	v.SetDefault("read_limit", 4<<20)
	v.SetDefault("send_buffer", 64)
	v.SetDefault("heartbeat_sweep", "10s")
	v.SetDefault("heartbeat_timeout", "30s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.World.Rooms) == 0 {
		cfg.World = domain.DefaultWorld()
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Rooms: %d\n", cfg.Mode, cfg.Port, len(cfg.World.Rooms))
	return &cfg, nil
}
