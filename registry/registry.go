package registry

import (
	"errors"
	"time"

	"script-rpc/config"
)

var ErrNotPublished = errors.New("no endpoint published for deployment")

// Endpoint is the published form of a client configuration.
type Endpoint struct {
	URL       string `json:"endpointUrl"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
	Debug     bool   `json:"debug,omitempty"`
}

func EndpointFrom(cfg config.ClientConfig) Endpoint {
	return Endpoint{
		URL:       cfg.EndpointURL,
		TimeoutMs: cfg.Timeout.Milliseconds(),
		Debug:     cfg.Debug,
	}
}

func (e Endpoint) ClientConfig() config.ClientConfig {
	return config.ClientConfig{
		EndpointURL: e.URL,
		Timeout:     time.Duration(e.TimeoutMs) * time.Millisecond,
		Debug:       e.Debug,
	}.WithDefaults()
}

// Registry distributes the endpoint of each deployment, so clients can be
// configured without shipping the URL with them.
type Registry interface {
	Publish(deployment string, ep Endpoint, ttl int64) error
	Withdraw(deployment string) error
	Resolve(deployment string) (Endpoint, error)
}
