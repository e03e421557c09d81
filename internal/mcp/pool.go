package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Pool holds one connected client per server name. Concurrent Connect calls
// for the same server share a single dial.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]*Client
	group   singleflight.Group
	dial    func(ctx context.Context, cfg ServerConfig) (*Client, error)
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{
		clients: make(map[string]*Client),
		dial: func(ctx context.Context, cfg ServerConfig) (*Client, error) {
			c := NewClient(cfg)
			if err := c.Connect(ctx); err != nil {
				return nil, err
			}
			return c, nil
		},
	}
}

// Connect returns the client for cfg.Name, dialing it on first use.
func (p *Pool) Connect(ctx context.Context, cfg ServerConfig) (*Client, error) {
	if c, err := p.Get(cfg.Name); err == nil {
		return c, nil
	}

	v, err, _ := p.group.Do(cfg.Name, func() (any, error) {
		if c, err := p.Get(cfg.Name); err == nil {
			return c, nil
		}
		c, err := p.dial(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("pool connect %s: %w", cfg.Name, err)
		}
		p.Add(c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

// Add registers an already connected client.
func (p *Pool) Add(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[c.Name()] = c
}

// Get returns a connected client by server name.
func (p *Pool) Get(name string) (*Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[name]
	if !ok {
		return nil, fmt.Errorf("mcp server %q not connected", name)
	}
	return c, nil
}

// All returns connected clients ordered by name.
func (p *Pool) All() []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Close closes and forgets every client.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for name, c := range p.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(p.clients, name)
	}
	return errors.Join(errs...)
}
