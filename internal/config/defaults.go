package config

const (
	// DefaultCallbackPort is the first port probed for the OAuth callback.
	DefaultCallbackPort = 3000

	// DefaultClientName is the client_name used for dynamic registration.
	DefaultClientName = "mcpauth"

	// DefaultTokenEndpointAuthMethod is used for registered public clients.
	DefaultTokenEndpointAuthMethod = "none"
)

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() Config {
	return Config{
		CallbackPort: DefaultCallbackPort,
		ClientName:   DefaultClientName,
		Servers:      map[string]ServerConfig{},
	}
}
