package coreclient

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pool hands out one Client per Core base URL. The empty URL resolves
// to the configured default, which settings changes can swap at
// runtime.
type Pool struct {
	timeout time.Duration
	log     zerolog.Logger

	mu         sync.Mutex
	defaultURL string
	clients    map[string]*Client
}

// NewPool creates a pool with the given default Core URL. An empty
// defaultURL means no default is configured.
func NewPool(defaultURL string, timeout time.Duration, log zerolog.Logger) *Pool {
	return &Pool{
		timeout:    timeout,
		log:        log,
		defaultURL: strings.TrimRight(defaultURL, "/"),
		clients:    make(map[string]*Client),
	}
}

// For returns the client for coreURL, creating it on first use. The
// empty string resolves to the default URL; nil is returned when no
// default is configured.
func (p *Pool) For(coreURL string) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	url := strings.TrimRight(coreURL, "/")
	if url == "" {
		url = p.defaultURL
	}
	if url == "" {
		return nil
	}
	if c, ok := p.clients[url]; ok {
		return c
	}
	c := NewClient(url, p.timeout, p.log)
	p.clients[url] = c
	return c
}

// Default returns the client for the default Core URL, or nil when
// none is configured.
func (p *Pool) Default() *Client { return p.For("") }

// DefaultURL returns the configured default Core URL.
func (p *Pool) DefaultURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.defaultURL
}

// SetDefault swaps the default Core URL and timeout for clients created
// afterwards. Existing clients for other URLs are kept.
func (p *Pool) SetDefault(url string, timeout time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultURL = strings.TrimRight(url, "/")
	if timeout > 0 && timeout != p.timeout {
		p.timeout = timeout
		// Timeout applies per-client, so drop cached ones.
		p.clients = make(map[string]*Client)
	}
}
