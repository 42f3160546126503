package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Server holds the signaling server configuration.
type Server struct {
	Port     int    `yaml:"port" env:"PORT" env-default:"3000" env-description:"HTTP listen port"`
	BaseURL  string `yaml:"base_url" env:"LINK_BASE_URL" env-default:"https://example.com" env-description:"Public origin used in room links"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`

	// RoomTTL of zero keeps rooms for the life of the process.
	RoomTTL       time.Duration `yaml:"room_ttl" env:"ROOM_TTL" env-default:"0s" env-description:"Evict rooms older than this, 0 disables"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL" env-default:"1m" env-description:"How often expired rooms are swept"`

	TelegramToken  string   `yaml:"telegram_token" env:"TG_BOT_TOKEN" env-description:"Telegram bot token, bot disabled when empty"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" env-separator:"," env-description:"Comma separated origins, empty allows all"`
	STUNServer     string   `yaml:"stun_server" env:"STUN_SERVER" env-default:"stun:stun.l.google.com:19302" env-description:"STUN server handed to browsers"`
}

// LoadServer reads the server configuration. When path is set the file is
// read first and the environment overrides it.
func LoadServer(path string) (*Server, error) {
	var cfg Server

	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the server cannot run with.
func (s *Server) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port %d", s.Port)
	}
	if s.RoomTTL < 0 {
		return fmt.Errorf("room ttl must not be negative, got %s", s.RoomTTL)
	}
	if s.RoomTTL > 0 && s.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive when room ttl is set")
	}
	return nil
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// ICEServers lists the servers advertised to browser endpoints.
func (s *Server) ICEServers() []string {
	if s.STUNServer == "" {
		return nil
	}
	return []string{s.STUNServer}
}

// Usage describes every environment variable the server reads.
func Usage() string {
	var cfg Server
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return text
}
