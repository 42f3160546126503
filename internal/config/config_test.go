package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearClientEnv(t *testing.T) {
	for _, key := range []string{"LINK_SERVER", "STUN_SERVER", "TURN_SERVER", "TURN_USERNAME", "TURN_PASSWORD"} {
		t.Setenv(key, "")
	}
}

func TestLoadClientDefaults(t *testing.T) {
	clearClientEnv(t)

	cfg, err := LoadClient(ClientOptions{})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000", cfg.Server)
	assert.Equal(t, "ws://localhost:3000/ws", cfg.WebSocketURL)
	assert.Equal(t, []string{DefaultSTUN}, cfg.GetSTUNServers())
	assert.Nil(t, cfg.GetTURNServers())
}

func TestLoadClientPrecedence(t *testing.T) {
	clearClientEnv(t)
	t.Setenv("LINK_SERVER", "calls.example.com")
	t.Setenv("STUN_SERVER", "stun:env.example.com:3478")

	cfg, err := LoadClient(ClientOptions{STUNServer: "stun:flag.example.com:3478"})
	require.NoError(t, err)

	assert.Equal(t, "https://calls.example.com", cfg.Server)
	assert.Equal(t, "wss://calls.example.com/ws", cfg.WebSocketURL)
	assert.Equal(t, "stun:flag.example.com:3478", cfg.STUNServer)
	assert.Equal(t, "https://calls.example.com/api/rooms", cfg.RoomsURL())
	assert.Equal(t, "https://calls.example.com/room/0123456789abcdef", cfg.GetRoomLink("0123456789abcdef"))
}

func TestLoadClientRejectsBadServer(t *testing.T) {
	clearClientEnv(t)

	for _, server := range []string{"ftp://example.com", "http://", "   "} {
		_, err := LoadClient(ClientOptions{Server: server})
		assert.Error(t, err, server)
	}
}

func TestTURNServers(t *testing.T) {
	cfg := &Client{TURNServer: "turn:relay.example.com", TURNUser: "u", TURNPass: "p"}

	assert.Equal(t, []string{
		"turn:relay.example.com:3478?transport=udp",
		"turn:relay.example.com:3478?transport=tcp",
		"turns:relay.example.com:5349?transport=tcp",
	}, cfg.GetTURNServers())

	user, pass := cfg.GetTURNCredentials()
	assert.Equal(t, "u", user)
	assert.Equal(t, "p", pass)
}

func TestParseRoomRef(t *testing.T) {
	const id = "0123456789abcdef"

	tests := []struct {
		ref     string
		want    string
		wantErr bool
	}{
		{ref: id, want: id},
		{ref: "https://calls.example.com/room/" + id, want: id},
		{ref: "http://localhost:3000/room/" + id + "/", want: id},
		{ref: "https://calls.example.com/room/nothex", wantErr: true},
		{ref: "hello", wantErr: true},
		{ref: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ParseRoomRef(tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func clearServerEnv(t *testing.T) {
	for _, key := range []string{"PORT", "LINK_BASE_URL", "LOG_LEVEL", "ROOM_TTL", "SWEEP_INTERVAL", "TG_BOT_TOKEN", "ALLOWED_ORIGINS", "STUN_SERVER"} {
		old, ok := os.LookupEnv(key)
		require.NoError(t, os.Unsetenv(key))
		if ok {
			t.Cleanup(func() { os.Setenv(key, old) })
		}
	}
}

func TestLoadServerDefaults(t *testing.T) {
	clearServerEnv(t)

	cfg, err := LoadServer("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, ":3000", cfg.Addr())
	assert.Equal(t, "https://example.com", cfg.BaseURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Zero(t, cfg.RoomTTL)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Empty(t, cfg.TelegramToken)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers())
}

func TestLoadServerEnv(t *testing.T) {
	clearServerEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("ROOM_TTL", "2h")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadServer("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 2*time.Hour, cfg.RoomTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadServerFile(t *testing.T) {
	clearServerEnv(t)
	t.Setenv("PORT", "9000")

	path := filepath.Join(t.TempDir(), "link.yml")
	require.NoError(t, os.WriteFile(path, []byte("port: 4000\nbase_url: https://calls.example.com\n"), 0o600))

	cfg, err := LoadServer(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port, "environment overrides the file")
	assert.Equal(t, "https://calls.example.com", cfg.BaseURL)
}

func TestServerValidate(t *testing.T) {
	assert.Error(t, (&Server{Port: 0}).Validate())
	assert.Error(t, (&Server{Port: 80, RoomTTL: -time.Second}).Validate())
	assert.Error(t, (&Server{Port: 80, RoomTTL: time.Hour}).Validate())
	assert.NoError(t, (&Server{Port: 80, RoomTTL: time.Hour, SweepInterval: time.Minute}).Validate())
}
