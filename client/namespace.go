package client

const (
	NameGoogle = "google.script.run"
	NameAPI    = "api.script.run"
)

// Script is one named call surface. Both surfaces of a Namespaces value are
// views of the same Client.
type Script struct {
	name   string
	client *Client
}

// Run returns a fresh Runner, as each access of script.run does.
func (s *Script) Run() *Runner {
	return newRunner(s.client, s.name)
}

func (s *Script) Name() string { return s.name }

func (s *Script) Client() *Client { return s.client }

// Namespaces exposes the native convention name and the parallel one.
type Namespaces struct {
	Google *Script
	API    *Script
}

// NewNamespaces registers c under both names.
func NewNamespaces(c *Client) *Namespaces {
	return &Namespaces{
		Google: &Script{name: NameGoogle, client: c},
		API:    &Script{name: NameAPI, client: c},
	}
}
