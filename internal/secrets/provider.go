package secrets

import (
	"context"
	"os"
	"strings"
	"sync"

	apperrors "sandboxnotify/pkg/errors"
)

const serviceName = "secrets"

// Provider fetches a secret value by name.
type Provider interface {
	Fetch(ctx context.Context, name string) (string, error)
}

// EnvProvider reads secrets from environment variables. The name
// "email-api-key" with prefix "NOTIFY_SECRET_" resolves to
// NOTIFY_SECRET_EMAIL_API_KEY.
type EnvProvider struct {
	prefix string
	lookup func(string) (string, bool)
}

func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix, lookup: os.LookupEnv}
}

func (p *EnvProvider) VarName(name string) string {
	upper := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(name))
	return p.prefix + upper
}

func (p *EnvProvider) Fetch(_ context.Context, name string) (string, error) {
	value, ok := p.lookup(p.VarName(name))
	if !ok || value == "" {
		return "", missing(name)
	}
	return value, nil
}

// StaticProvider serves secrets from memory. Used in tests and local runs.
type StaticProvider struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewStaticProvider(values map[string]string) *StaticProvider {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &StaticProvider{values: copied}
}

func (p *StaticProvider) Set(name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[name] = value
}

func (p *StaticProvider) Fetch(_ context.Context, name string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	value, ok := p.values[name]
	if !ok || value == "" {
		return "", missing(name)
	}
	return value, nil
}

func missing(name string) error {
	return apperrors.NewCritical("SECRET_MISSING", "secret "+name+" is not configured", serviceName)
}
