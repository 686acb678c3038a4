package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode        string `mapstructure:"mode"`
	BaseURL     string `mapstructure:"base_url"`
	ControlPort int    `mapstructure:"control_port"`

	Heartbeat    time.Duration `mapstructure:"heartbeat"`
	PushTimeout  time.Duration `mapstructure:"push_timeout"`
	ReconnectCap time.Duration `mapstructure:"reconnect_cap"`

	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	MicRTPPort         int           `mapstructure:"mic_rtp_port"`
	CamRTPPort         int           `mapstructure:"cam_rtp_port"`
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
	v.SetDefault("base_url", "http://localhost:4000")
	v.SetDefault("control_port", 8090)
	v.SetDefault("heartbeat", "30s")
	v.SetDefault("push_timeout", "10s")
	v.SetDefault("reconnect_cap", "10s")
	v.SetDefault("negotiation_timeout", "10s")
	v.SetDefault("mic_rtp_port", 5004)
	v.SetDefault("cam_rtp_port", 5006)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// SocketURL derives the realtime endpoint from the API base URL by
// swapping the scheme (http→ws, https→wss) and appending /socket.
func (c *Config) SocketURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("bad base_url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("bad base_url scheme: %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket"
	return u.String(), nil
}
