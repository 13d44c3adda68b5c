package routing

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

type Allowlist struct {
	Version     int                   `yaml:"version"`
	Entrypoints map[string]Entrypoint `yaml:"entrypoints"`
}

type Entrypoint struct {
	Routes []Route `yaml:"routes"`
}

type Route struct {
	Path       string   `yaml:"path"`
	Methods    []string `yaml:"methods"`
	RouteClass string   `yaml:"route_class"`
}

func ParseAllowlistYAML(b []byte) (Allowlist, error) {
	var a Allowlist
	if err := yaml.Unmarshal(b, &a); err != nil {
		return Allowlist{}, err
	}
	if a.Version != 1 {
		return Allowlist{}, errors.New("allowlist: unsupported version")
	}
	if a.Entrypoints == nil {
		return Allowlist{}, errors.New("allowlist: missing entrypoints")
	}
	for name, ep := range a.Entrypoints {
		for _, r := range ep.Routes {
			if r.RouteClass != "" && !validRouteClass(r.RouteClass) {
				return Allowlist{}, fmt.Errorf("allowlist: %s %s: unknown route_class %q", name, r.Path, r.RouteClass)
			}
			for _, m := range r.Methods {
				if m != strings.ToUpper(m) {
					return Allowlist{}, fmt.Errorf("allowlist: %s %s: method %q must be upper case", name, r.Path, m)
				}
			}
		}
	}
	return a, nil
}

func LoadAllowlist(path string) (Allowlist, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Allowlist{}, err
	}
	return ParseAllowlistYAML(b)
}

// Allows reports whether the entrypoint declares method on path (matched
// literally, so patterns are compared by their raw text).
func (a Allowlist) Allows(entrypoint string, path string, method string) bool {
	ep, ok := a.Entrypoints[entrypoint]
	if !ok {
		return false
	}
	for _, r := range ep.Routes {
		if r.Path == path && slices.Contains(r.Methods, method) {
			return true
		}
	}
	return false
}
