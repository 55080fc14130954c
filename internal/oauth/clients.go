package oauth

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"toolgate/internal/models"
)

// ClientRegistry holds the downstream client applications allowed to
// start an authorization flow. The registry is loaded once at startup;
// there is no dynamic registration.
type ClientRegistry struct {
	clients map[string]*models.Client
}

func NewClientRegistry(clients []models.Client) *ClientRegistry {
	byID := make(map[string]*models.Client, len(clients))
	for i := range clients {
		byID[clients[i].ID] = &clients[i]
	}
	return &ClientRegistry{clients: byID}
}

// LoadClientRegistry reads the client registry from a YAML file.
func LoadClientRegistry(path string) (*ClientRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read clients file: %w", err)
	}

	var file struct {
		Clients []models.Client `yaml:"clients"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse clients file: %w", err)
	}

	for _, c := range file.Clients {
		if c.ID == "" {
			return nil, fmt.Errorf("client with empty id in %s", path)
		}
		if len(c.RedirectURIs) == 0 {
			return nil, fmt.Errorf("client %q has no redirect_uris", c.ID)
		}
	}

	return NewClientRegistry(file.Clients), nil
}

// Get returns a client by ID
func (r *ClientRegistry) Get(clientID string) (*models.Client, bool) {
	client, exists := r.clients[clientID]
	return client, exists
}

// Validate checks the client ID and redirect URI of an authorization
// request against the registry.
func (r *ClientRegistry) Validate(clientID, redirectURI string) (*models.Client, error) {
	client, exists := r.clients[clientID]
	if !exists {
		return nil, fmt.Errorf("%w: unknown client %q", ErrInvalidClient, clientID)
	}

	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			return client, nil
		}
	}
	return nil, fmt.Errorf("%w: %q not registered for client %q", ErrInvalidRedirectURI, redirectURI, clientID)
}
