package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Tenant struct {
	ID     string `yaml:"id"`
	Domain string `yaml:"domain"`
	Name   string `yaml:"name"`
}

type TenancyResolver interface {
	ResolveTenant(ctx context.Context, hostname string) (Tenant, bool, error)
}

type tenantsFile struct {
	Version int      `yaml:"version"`
	Tenants []Tenant `yaml:"tenants"`
}

func loadTenants(path string) (map[string]Tenant, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseTenantsYAML(b)
}

func parseTenantsYAML(b []byte) (map[string]Tenant, error) {
	var tf tenantsFile
	if err := yaml.Unmarshal(b, &tf); err != nil {
		return nil, err
	}
	if tf.Version != 1 {
		return nil, errors.New("tenants: unsupported version")
	}
	if len(tf.Tenants) == 0 {
		return nil, errors.New("tenants: empty")
	}

	m := make(map[string]Tenant, len(tf.Tenants))
	for _, t := range tf.Tenants {
		if t.Domain == "" || t.ID == "" {
			return nil, errors.New("tenants: invalid tenant")
		}
		domain := normalizeHostname(t.Domain)
		if _, dup := m[domain]; dup {
			return nil, errors.New("tenants: duplicate domain " + domain)
		}
		m[domain] = t
	}
	return m, nil
}

type staticTenancyResolver struct {
	tenants map[string]Tenant
}

func newStaticTenancyResolver(tenants map[string]Tenant) TenancyResolver {
	m := make(map[string]Tenant, len(tenants))
	for k, v := range tenants {
		m[normalizeHostname(k)] = v
	}
	return &staticTenancyResolver{tenants: m}
}

func (r *staticTenancyResolver) ResolveTenant(_ context.Context, hostname string) (Tenant, bool, error) {
	hostname = normalizeHostname(hostname)
	if hostname == "" {
		return Tenant{}, false, nil
	}
	t, ok := r.tenants[hostname]
	return t, ok, nil
}

func effectiveHost(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if h := forwardedHost(r); h != "" {
			return normalizeHostname(h)
		}
	}
	return normalizeHostname(r.Host)
}

func forwardedHost(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("X-Forwarded-Host"))
	if raw == "" {
		return ""
	}
	if first, _, ok := strings.Cut(raw, ","); ok {
		raw = first
	}
	return strings.TrimSpace(raw)
}

func normalizeHostname(host string) string {
	host = strings.TrimSpace(host)
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return strings.ToLower(strings.TrimSpace(host))
}
