package server

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Config is the process configuration. Every field has an environment
// variable; ConfigFromEnv fills the defaults.
type Config struct {
	HTTPAddr        string
	DatabaseURL     string
	AllowlistPath   string
	TenantsPath     string
	AuthzModelPath  string
	AuthzPolicyPath string
	TrustProxy      bool
	DefaultFallback bool
	LogLevel        string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		DatabaseURL:     dbDSNFromEnv(),
		TrustProxy:      os.Getenv("TRUST_PROXY") == "1",
		DefaultFallback: os.Getenv("LEADROUTING_DEFAULT_FALLBACK") == "1",
		LogLevel:        strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))),
	}

	var err error
	if cfg.AllowlistPath, err = configPath("ALLOWLIST_PATH", "config/routing/allowlist.yaml"); err != nil {
		return Config{}, err
	}
	if cfg.TenantsPath, err = configPath("TENANTS_PATH", "config/tenants.yaml"); err != nil {
		return Config{}, err
	}
	if cfg.AuthzModelPath, err = configPath("AUTHZ_MODEL_PATH", "config/access/model.conf"); err != nil {
		return Config{}, err
	}
	if cfg.AuthzPolicyPath, err = configPath("AUTHZ_POLICY_PATH", "config/access/policy.csv"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// configPath prefers the env override, then searches rel in the working
// directory and up to seven parents so tests run from package dirs.
func configPath(envKey string, rel string) (string, error) {
	if v := os.Getenv(envKey); v != "" {
		return v, nil
	}
	path := rel
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: " + rel + " not found")
}

// dbDSNFromEnv returns DATABASE_URL, or a DSN assembled from DB_* when
// DB_HOST is set, or "" to run on the in-memory stores.
func dbDSNFromEnv() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}

	port := getenvDefault("DB_PORT", "5432")
	user := getenvDefault("DB_USER", "app")
	pass := getenvDefault("DB_PASSWORD", "app")
	name := getenvDefault("DB_NAME", "opsdesk")
	sslmode := getenvDefault("DB_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   host + ":" + port,
		Path:   "/" + name,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
