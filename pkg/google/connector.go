package google

import (
	"context"
	"fmt"
	"sync"

	"github.com/harrisonrobin/taskweave/pkg/calsync"
	"github.com/harrisonrobin/taskweave/pkg/model"
)

// DialFunc opens a client for an account.
type DialFunc func(ctx context.Context, account string) (*Client, error)

// Connector hands out remotes for configured resources, keeping one client
// per account.
type Connector struct {
	dial DialFunc

	mu      sync.Mutex
	clients map[string]*Client
}

func NewConnector(dial DialFunc) *Connector {
	if dial == nil {
		dial = Dial
	}
	return &Connector{dial: dial, clients: make(map[string]*Client)}
}

// Client returns the cached client of account, dialing it on first use.
func (c *Connector) Client(ctx context.Context, account string) (*Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[account]; ok {
		return cl, nil
	}
	cl, err := c.dial(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("could not connect account %q: %w", account, err)
	}
	c.clients[account] = cl
	return cl, nil
}

func (c *Connector) Connect(ctx context.Context, r *model.Resource) (calsync.Remote, error) {
	cl, err := c.Client(ctx, r.Credentials)
	if err != nil {
		return nil, err
	}
	switch r.Kind {
	case model.TaskList:
		return cl.TaskList(r.Endpoint), nil
	case model.EventCalendar:
		return cl.Calendar(r.Endpoint), nil
	}
	return nil, fmt.Errorf("unknown resource kind %q", r.Kind)
}

// Discover lists the collections of account.
func (c *Connector) Discover(ctx context.Context, account string) ([]model.Collection, error) {
	cl, err := c.Client(ctx, account)
	if err != nil {
		return nil, err
	}
	return cl.Discover(ctx)
}
