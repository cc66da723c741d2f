package agent

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// Credentials is an ordered pool of API keys for the generation backend
// with a circular cursor. Rotation happens when the backend throttles the
// current key; every outbound call reads the current key and releases the
// lock before touching the network.
type Credentials struct {
	mu     sync.Mutex
	keys   []string
	cursor int
}

// NewCredentials builds a pool from keys. An empty pool is a configuration
// error: there is nothing sane to do at runtime without any credential.
func NewCredentials(keys []string) (*Credentials, error) {
	clean := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			clean = append(clean, k)
		}
	}
	if len(clean) == 0 {
		return nil, fmt.Errorf("credential pool is empty")
	}
	return &Credentials{keys: clean}, nil
}

// CredentialsFromEnv reads the comma-separated GEN_API_KEYS pool.
func CredentialsFromEnv() (*Credentials, error) {
	raw := os.Getenv("GEN_API_KEYS")
	if raw == "" {
		return nil, fmt.Errorf("GEN_API_KEYS is not set")
	}
	return NewCredentials(strings.Split(raw, ","))
}

func (c *Credentials) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

// Current returns the credential under the cursor.
func (c *Credentials) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[c.cursor]
}

// Rotate advances the cursor circularly and returns the new credential.
func (c *Credentials) Rotate() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = (c.cursor + 1) % len(c.keys)
	log.Printf("[AGENT] rotated credential to #%d of %d", c.cursor+1, len(c.keys))
	return c.keys[c.cursor]
}
