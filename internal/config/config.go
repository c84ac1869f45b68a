// Package config loads the daemon's configuration: a viper-backed layer
// for scalar settings (env-overridable, matching
// quailyquaily-mister_morph's llm_viper.go pattern of small typed getters
// over viper.Get*) plus a YAML declarative file for the subscriptions a
// fresh store should be seeded with on first boot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the daemon's resolved runtime configuration.
type Config struct {
	DBPath          string
	ListenAddr      string
	DevUserID       string
	SeedFile        string
	OIDC            OIDCConfig
	SessionKey      string
	SessionTTL      time.Duration
	CookieSecure    bool
	CookieDomain    string
	AllowedSubjects []string
}

type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	FallbackURL  string
}

// Load reads configuration from an optional file plus FLEXSYNC_*
// environment variables, with defaults suitable for local development.
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("flexsync")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("db.path", "flexsync.db")
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.dev_user_id", "")
	v.SetDefault("seed.file", "")
	v.SetDefault("session.ttl", "720h")
	v.SetDefault("session.cookie_secure", true)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	ttl, err := time.ParseDuration(v.GetString("session.ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("parse session.ttl: %w", err)
	}

	return Config{
		DBPath:     v.GetString("db.path"),
		ListenAddr: v.GetString("server.listen_addr"),
		DevUserID:  v.GetString("server.dev_user_id"),
		SeedFile:   v.GetString("seed.file"),
		OIDC: OIDCConfig{
			IssuerURL:    v.GetString("oidc.issuer_url"),
			ClientID:     v.GetString("oidc.client_id"),
			ClientSecret: v.GetString("oidc.client_secret"),
			RedirectURL:  v.GetString("oidc.redirect_url"),
			FallbackURL:  v.GetString("oidc.fallback_url"),
		},
		SessionKey:      v.GetString("session.key"),
		SessionTTL:      ttl,
		CookieSecure:    v.GetBool("session.cookie_secure"),
		CookieDomain:    v.GetString("session.cookie_domain"),
		AllowedSubjects: v.GetStringSlice("oidc.allowed_subjects"),
	}, nil
}

// SeedSubscription is one entry in a declarative startup seed file: a
// subscription that is committed, with the other entries, as a new Pending
// version on startup if the store holds only its empty version 0.
type SeedSubscription struct {
	Name            string `yaml:"name"`
	ObjectClassName string `yaml:"object_class_name"`
	Query           string `yaml:"query"`
}

// LoadSeed parses a YAML file listing subscriptions to declare on first
// boot. A missing path is not an error: it means no seeding is configured.
func LoadSeed(path string) ([]SeedSubscription, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}
	var doc struct {
		Subscriptions []SeedSubscription `yaml:"subscriptions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return doc.Subscriptions, nil
}
