package config

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ServerConfFileName is the name of the server configuration file
	ServerConfFileName = "server.conf"

	// ServerNameLength is the length of the generated server name
	ServerNameLength = 6
)

// ServerIdentity holds the persistent identity of a server instance.
// The identity is generated on first start and stored in server.conf so
// that the same name survives restarts. The name shows up in logs and in
// the version endpoint, which makes it possible to tell servers apart
// when several training hosts are managed from one workstation.
type ServerIdentity struct {
	// Name is the unique identifier for this server instance.
	// Generated randomly on first start if not present.
	Name string `json:"name"`
}

// GenerateServerName generates a random 6-character server name
// consisting of uppercase, lowercase letters and numbers
func GenerateServerName() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, ServerNameLength)
	rand.Read(b)

	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}

	return string(b)
}

// GetOrCreateServerIdentity retrieves the server identity from server.conf
// or creates a new one if it doesn't exist.
//
// Returns the server identity or an error if reading/writing fails.
func (c *Config) GetOrCreateServerIdentity() (*ServerIdentity, error) {
	confPath := filepath.Join(c.Storage.DataDir, ServerConfFileName)

	if _, err := os.Stat(confPath); err == nil {
		return c.readServerIdentity(confPath)
	}

	identity := &ServerIdentity{
		Name: GenerateServerName(),
	}

	if err := c.writeServerIdentity(confPath, identity); err != nil {
		return nil, fmt.Errorf("failed to write server identity: %w", err)
	}

	return identity, nil
}

// readServerIdentity reads server identity from file
func (c *Config) readServerIdentity(path string) (*ServerIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read server.conf: %w", err)
	}

	// Parse simple key=value format
	lines := strings.Split(string(data), "\n")
	identity := &ServerIdentity{}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "name":
			identity.Name = value
		}
	}

	if identity.Name == "" {
		return nil, fmt.Errorf("server.conf does not contain 'name' field")
	}

	return identity, nil
}

// writeServerIdentity writes server identity to file in key=value format.
func (c *Config) writeServerIdentity(path string, identity *ServerIdentity) error {
	content := fmt.Sprintf(`# trainctl Server Configuration
# Do not modify this file unless you know what you are doing

# Server instance unique identifier
name=%s
`, identity.Name)

	return os.WriteFile(path, []byte(content), 0644)
}
