package prompt

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Reader is the input side the Resolver prompts through.
type Reader interface {
	ReadLine(ctx context.Context, prompt string) (string, error)
	ReadMasked(ctx context.Context, prompt string) (string, error)
}

// Resolver asks for credentials missing from the configuration and
// caches them per host key for the life of the process, so a retry
// reuses what the operator already typed.
type Resolver struct {
	in Reader

	mu      sync.Mutex
	users   map[string]string
	secrets map[string]string
}

// NewResolver returns a Resolver prompting through in.
func NewResolver(in Reader) *Resolver {
	return &Resolver{
		in:      in,
		users:   make(map[string]string),
		secrets: make(map[string]string),
	}
}

// Username returns the cached username for key or prompts for one,
// repeating the prompt until a non-blank name is entered.
func (r *Resolver) Username(ctx context.Context, key, addr string) (string, error) {
	r.mu.Lock()
	u, ok := r.users[key]
	r.mu.Unlock()
	if ok {
		return u, nil
	}

	for {
		line, err := r.in.ReadLine(ctx, fmt.Sprintf("Enter username for %s> ", addr))
		if err != nil {
			return "", err
		}
		if u = strings.TrimSpace(line); u != "" {
			break
		}
	}

	r.mu.Lock()
	r.users[key] = u
	r.mu.Unlock()
	return u, nil
}

// Secret returns the cached password/passphrase for key or prompts for
// one with masked echo.  An empty secret is a valid answer.
func (r *Resolver) Secret(ctx context.Context, key, addr string) (string, error) {
	r.mu.Lock()
	s, ok := r.secrets[key]
	r.mu.Unlock()
	if ok {
		return s, nil
	}

	s, err := r.in.ReadMasked(ctx, fmt.Sprintf("Enter password for %s> ", addr))
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.secrets[key] = s
	r.mu.Unlock()
	return s, nil
}

// Forget drops everything prompted for key, so the next round asks
// again after an authentication failure.
func (r *Resolver) Forget(key string) {
	r.mu.Lock()
	delete(r.users, key)
	delete(r.secrets, key)
	r.mu.Unlock()
}
