// Package config holds the process-wide settings every component receives
// explicitly at construction time. There is no global lookup, the loaded
// Config is threaded through as a parameter.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// ServiceAccountTokenPath is where kubernetes mounts the pod credential.
// Used only when running inside a cluster (Pod mode).
const ServiceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token" //nolint:gosec // path, not a credential

type Config struct {
	// NetworkTimeout bounds every single fetch. An exceeded timeout is a
	// negative probe result, never a fatal error.
	NetworkTimeout time.Duration `mapstructure:"network_timeout"`
	// Pod marks self-test mode: the scanner runs inside the cluster and
	// probes against its own pod.
	Pod bool `mapstructure:"pod"`
	// Active enables the proof-of-exploit hunters.
	Active bool `mapstructure:"active"`
	// Targets are node addresses to probe.
	Targets []string `mapstructure:"targets"`
	// Token is the bearer credential for the secure port. Empty means
	// anonymous. In Pod mode the mounted service account token is used when
	// this is not set.
	Token string `mapstructure:"token"`
	// Schedule is an optional 5-field cron expression (or @every macro) for
	// repeated runs. Empty means run once.
	Schedule string `mapstructure:"schedule"`
	// Report is the output file for the CycloneDX report, empty means stdout.
	Report string `mapstructure:"report"`
	// DB is an optional sqlite file persisting runs and findings.
	DB string `mapstructure:"db"`
	// Nmap switches port discovery from direct dials to an nmap scan.
	Nmap bool `mapstructure:"nmap"`
	// NmapBinary overrides the nmap binary looked up on PATH.
	NmapBinary string `mapstructure:"nmap_binary"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network_timeout", 5*time.Second)
	v.SetDefault("pod", false)
	v.SetDefault("active", false)
	v.SetDefault("targets", []string{})
	v.SetDefault("schedule", "")
	v.SetDefault("report", "")
	v.SetDefault("db", "")
	v.SetDefault("nmap", false)
}

// Load reads the configuration from path (a yaml file) when not empty, then
// from NODEHOUND_* environment variables, and fills in defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("nodehound")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the probers cannot work with.
func (c Config) Validate() error {
	if c.NetworkTimeout <= 0 {
		return fmt.Errorf("network_timeout must be positive, got %s", c.NetworkTimeout)
	}
	if c.Schedule != "" {
		if _, err := ParseSchedule(c.Schedule); err != nil {
			return fmt.Errorf("schedule %q: %w", c.Schedule, err)
		}
	}
	return nil
}

// BearerToken resolves the credential for the secure port. Pod mode falls
// back to the mounted service account token.
func (c Config) BearerToken() string {
	if c.Token != "" {
		return c.Token
	}
	if c.Pod {
		raw, err := os.ReadFile(ServiceAccountTokenPath)
		if err == nil {
			return strings.TrimSpace(string(raw))
		}
	}
	return ""
}

// ParseSchedule parses a 5-field cron expression or a @macro into a
// schedule. cron.ParseStandard also accepts @every durations.
func ParseSchedule(expr string) (cron.Schedule, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return nil, fmt.Errorf("empty cron expression")
	}
	return cron.ParseStandard(e)
}
