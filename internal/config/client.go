package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/amalgammas/link/internal/room"
)

// Default client configuration values.
const (
	DefaultServer   = "http://localhost:3000"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultTURN     = ""
	DefaultTURNUser = ""
	DefaultTURNPass = ""
)

// Client holds the configuration of the command line endpoint.
type Client struct {
	// Server is the HTTP origin of the signaling server.
	Server string

	// WebSocketURL is derived from Server.
	WebSocketURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts ICE to relay candidates.
	ForceRelay bool
}

// ClientOptions carries command line overrides.
type ClientOptions struct {
	Server     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// LoadClient resolves every value as flag > environment > default.
func LoadClient(opts ClientOptions) (*Client, error) {
	server := pick(opts.Server, "LINK_SERVER", DefaultServer)
	origin, err := normalizeOrigin(server)
	if err != nil {
		return nil, err
	}

	wsURL, err := websocketURL(origin)
	if err != nil {
		return nil, err
	}

	return &Client{
		Server:       origin,
		WebSocketURL: wsURL,
		STUNServer:   pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:   pick(opts.TURNServer, "TURN_SERVER", DefaultTURN),
		TURNUser:     pick(opts.TURNUser, "TURN_USERNAME", DefaultTURNUser),
		TURNPass:     pick(opts.TURNPass, "TURN_PASSWORD", DefaultTURNPass),
		ForceRelay:   opts.ForceRelay,
	}, nil
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

// normalizeOrigin accepts "host", "host:port" or a full URL and returns
// scheme://host without a trailing slash. Bare hosts default to https.
func normalizeOrigin(server string) (string, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return "", fmt.Errorf("server address is empty")
	}
	if !strings.Contains(server, "://") {
		server = "https://" + server
	}

	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server address %q: %w", server, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server address %q: missing host", server)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return "", fmt.Errorf("invalid server address %q: unsupported scheme %s", server, u.Scheme)
	}

	return u.Scheme + "://" + u.Host + strings.TrimRight(u.Path, "/"), nil
}

func websocketURL(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// RoomsURL is the room minting endpoint.
func (c *Client) RoomsURL() string {
	return c.Server + "/api/rooms"
}

// GetRoomLink returns the browser link for a room ID.
func (c *Client) GetRoomLink(roomID string) string {
	return room.Link(c.Server, roomID)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Client) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Client) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turn:"), "turns:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Client) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// ParseRoomRef extracts a room id from either a bare id or a room link such
// as https://host/room/<id>.
func ParseRoomRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if room.ValidID(ref) {
		return ref, nil
	}

	u, err := url.Parse(ref)
	if err != nil || u.Path == "" {
		return "", fmt.Errorf("%q is neither a room id nor a room link", ref)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "room" && room.ValidID(parts[i+1]) {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("%q is neither a room id nor a room link", ref)
}
