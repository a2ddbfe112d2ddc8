package config

// Config is the top-level configuration structure for mcpauth.
type Config struct {
	// CallbackPort is the first port probed for the OAuth callback listener.
	CallbackPort int `yaml:"callbackPort,omitempty"`

	// ClientName is sent as client_name during dynamic client registration.
	ClientName string `yaml:"clientName,omitempty"`

	// Servers maps a short name to an MCP server.
	Servers map[string]ServerConfig `yaml:"servers,omitempty"`
}

// ServerConfig describes one OAuth-protected MCP server.
type ServerConfig struct {
	URL          string   `yaml:"url"`
	ClientID     string   `yaml:"clientId,omitempty"`     // Used when dynamic registration is unavailable
	ClientSecret string   `yaml:"clientSecret,omitempty"` // Only for confidential clients
	Scopes       []string `yaml:"scopes,omitempty"`
}

// Server returns the server registered under name.
func (c Config) Server(name string) (ServerConfig, bool) {
	server, ok := c.Servers[name]
	return server, ok
}

// SetServer registers or replaces a server.
func (c *Config) SetServer(name string, server ServerConfig) {
	if c.Servers == nil {
		c.Servers = make(map[string]ServerConfig)
	}
	c.Servers[name] = server
}
