package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/gatekeeper/internal/mode"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

type Config struct {
	HTTPAddr    string // GATEKEEPER_HTTP_ADDR (default ":2050")
	GRPCAddr    string // GATEKEEPER_GRPC_ADDR (default ":2051")
	DatabaseURL string // GATEKEEPER_DATABASE_URL (optional, empty = in-memory history)
	NATSURL     string // GATEKEEPER_NATS_URL (optional, empty = no events)
	AuthToken   string // GATEKEEPER_AUTH_TOKEN (optional, empty = auth disabled)
	PolicyFile  string // GATEKEEPER_POLICY_FILE (optional TOML)

	// Oracle settings
	GeminiAPIKey  string        // GEMINI_API_KEY (empty = every negotiation is denied)
	OracleModel   string        // GATEKEEPER_ORACLE_MODEL (default "gemma-3-27b-it")
	OracleTimeout time.Duration // GATEKEEPER_ORACLE_TIMEOUT (default 30s)

	// Enforcement settings
	Enforcer     string // GATEKEEPER_ENFORCER ("exec" or "noop", default "exec")
	LANInterface string // GATEKEEPER_LAN_INTERFACE (default "br-lan")
	WANInterface string // GATEKEEPER_WAN_INTERFACE (default "eth0")
	GatewayIP    string // GATEKEEPER_GATEWAY_IP (default "192.168.8.1")
	DNSServer    string // GATEKEEPER_DNS_SERVER (default "8.8.8.8:53")
	PortalURL    string // GATEKEEPER_PORTAL_URL (default "http://<gateway>:<http port>/")
	KickWiFi     bool   // GATEKEEPER_KICK_WIFI (default false; restart WiFi when the night starts)

	// Sync settings
	SyncInterval   time.Duration // GATEKEEPER_SYNC_INTERVAL (default 3m; 0 = disabled)
	SyncS3Bucket   string        // GATEKEEPER_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // GATEKEEPER_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // GATEKEEPER_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // GATEKEEPER_SYNC_S3_KEY (default "gatekeeper/history.jsonl")
	SyncGitRepo    string        // GATEKEEPER_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // GATEKEEPER_SYNC_GIT_FILE (default "history.jsonl")
	SyncGitBranch  string        // GATEKEEPER_SYNC_GIT_BRANCH (default "main")
}

func Load() (*Config, error) {
	c := &Config{
		HTTPAddr:       envOrDefault("GATEKEEPER_HTTP_ADDR", ":2050"),
		GRPCAddr:       envOrDefault("GATEKEEPER_GRPC_ADDR", ":2051"),
		DatabaseURL:    os.Getenv("GATEKEEPER_DATABASE_URL"),
		NATSURL:        os.Getenv("GATEKEEPER_NATS_URL"),
		AuthToken:      os.Getenv("GATEKEEPER_AUTH_TOKEN"),
		PolicyFile:     os.Getenv("GATEKEEPER_POLICY_FILE"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		OracleModel:    envOrDefault("GATEKEEPER_ORACLE_MODEL", "gemma-3-27b-it"),
		Enforcer:       envOrDefault("GATEKEEPER_ENFORCER", "exec"),
		LANInterface:   envOrDefault("GATEKEEPER_LAN_INTERFACE", "br-lan"),
		WANInterface:   envOrDefault("GATEKEEPER_WAN_INTERFACE", "eth0"),
		GatewayIP:      envOrDefault("GATEKEEPER_GATEWAY_IP", "192.168.8.1"),
		DNSServer:      envOrDefault("GATEKEEPER_DNS_SERVER", "8.8.8.8:53"),
		PortalURL:      os.Getenv("GATEKEEPER_PORTAL_URL"),
		SyncS3Bucket:   os.Getenv("GATEKEEPER_SYNC_S3_BUCKET"),
		SyncS3Endpoint: os.Getenv("GATEKEEPER_SYNC_S3_ENDPOINT"),
		SyncS3Region:   envOrDefault("GATEKEEPER_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:      envOrDefault("GATEKEEPER_SYNC_S3_KEY", "gatekeeper/history.jsonl"),
		SyncGitRepo:    os.Getenv("GATEKEEPER_SYNC_GIT_REPO"),
		SyncGitFile:    envOrDefault("GATEKEEPER_SYNC_GIT_FILE", "history.jsonl"),
		SyncGitBranch:  envOrDefault("GATEKEEPER_SYNC_GIT_BRANCH", "main"),
	}

	switch c.Enforcer {
	case "exec", "noop":
	default:
		return nil, fmt.Errorf("GATEKEEPER_ENFORCER: unknown enforcer %q (want exec or noop)", c.Enforcer)
	}

	d, err := time.ParseDuration(envOrDefault("GATEKEEPER_ORACLE_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("GATEKEEPER_ORACLE_TIMEOUT: %w", err)
	}
	if d <= 0 {
		return nil, fmt.Errorf("GATEKEEPER_ORACLE_TIMEOUT must be positive")
	}
	c.OracleTimeout = d

	if v := os.Getenv("GATEKEEPER_KICK_WIFI"); v != "" {
		kick, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("GATEKEEPER_KICK_WIFI: %w", err)
		}
		c.KickWiFi = kick
	}

	intervalStr := envOrDefault("GATEKEEPER_SYNC_INTERVAL", "3m")
	if intervalStr != "" {
		d, err := time.ParseDuration(intervalStr)
		if err != nil {
			return nil, fmt.Errorf("GATEKEEPER_SYNC_INTERVAL: %w", err)
		}
		c.SyncInterval = d
	}

	if c.PortalURL == "" {
		c.PortalURL = "http://" + c.GatewayIP + portOf(c.HTTPAddr) + "/"
	}

	return c, nil
}

// portOf returns the ":port" suffix of a listen address, or "" for port 80.
func portOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			if addr[i+1:] == "80" {
				return ""
			}
			return addr[i:]
		}
	}
	return ""
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Tunables is the content of the policy file.
type Tunables struct {
	Policy       model.Policy
	Schedule     mode.Schedule
	FocusDomains []string
	// RatePerMinute and RateBurst bound chat requests per client.
	RatePerMinute float64
	RateBurst     int
}

type policyFile struct {
	MaxClarifyingTurns      int           `toml:"max_clarifying_turns"`
	OracleRetries           int           `toml:"oracle_retries"`
	EnforcementRetries      int           `toml:"enforcement_retries"`
	EnforcementBackoff      time.Duration `toml:"enforcement_backoff"`
	ConversationIdleTimeout time.Duration `toml:"conversation_idle_timeout"`
	ProofThreshold          string        `toml:"proof_threshold"`
	ScriptedFirstTurn       bool          `toml:"scripted_first_turn"`
	RateLimitPerMinute      float64       `toml:"rate_limit_per_minute"`
	RateLimitBurst          int           `toml:"rate_limit_burst"`
	FocusDomains            []string      `toml:"focus_domains"`

	Schedule struct {
		NightStart string `toml:"night_start"`
		NightEnd   string `toml:"night_end"`
		Timezone   string `toml:"timezone"`
	} `toml:"schedule"`

	DurationClasses []struct {
		Name    string `toml:"name"`
		Minutes int    `toml:"minutes"`
	} `toml:"duration_classes"`
}

// DefaultTunables returns the values used when no policy file is set.
func DefaultTunables() Tunables {
	return Tunables{
		Policy:        model.DefaultPolicy(),
		Schedule:      mode.DefaultSchedule(),
		RatePerMinute: 2,
		RateBurst:     10,
	}
}

// LoadPolicy reads a TOML policy file. Keys that are absent keep their
// defaults; an empty path returns the defaults unchanged.
func LoadPolicy(path string) (Tunables, error) {
	t := DefaultTunables()
	if path == "" {
		return t, nil
	}

	p := t.Policy
	f := policyFile{
		MaxClarifyingTurns:      p.MaxClarifyingTurns,
		OracleRetries:           p.OracleRetries,
		EnforcementRetries:      p.EnforcementRetries,
		EnforcementBackoff:      p.EnforcementBackoff,
		ConversationIdleTimeout: p.ConversationIdleTimeout,
		ProofThreshold:          p.ProofThreshold,
		ScriptedFirstTurn:       p.ScriptedFirstTurn,
		RateLimitPerMinute:      t.RatePerMinute,
		RateLimitBurst:          t.RateBurst,
	}
	f.Schedule.NightStart = "21:00"
	f.Schedule.NightEnd = "05:00"

	if _, err := toml.DecodeFile(path, &f); err != nil {
		return Tunables{}, fmt.Errorf("policy file %s: %w", path, err)
	}

	p.MaxClarifyingTurns = f.MaxClarifyingTurns
	p.OracleRetries = f.OracleRetries
	p.EnforcementRetries = f.EnforcementRetries
	p.EnforcementBackoff = f.EnforcementBackoff
	p.ConversationIdleTimeout = f.ConversationIdleTimeout
	p.ProofThreshold = f.ProofThreshold
	p.ScriptedFirstTurn = f.ScriptedFirstTurn
	if len(f.DurationClasses) > 0 {
		p.Classes = make([]model.DurationClass, 0, len(f.DurationClasses))
		for _, c := range f.DurationClasses {
			p.Classes = append(p.Classes, model.DurationClass{
				Name:   c.Name,
				Length: time.Duration(c.Minutes) * time.Minute,
			})
		}
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return Tunables{}, fmt.Errorf("policy file %s: %w", path, err)
	}
	t.Policy = p

	s, err := mode.ParseSchedule(f.Schedule.NightStart, f.Schedule.NightEnd, f.Schedule.Timezone)
	if err != nil {
		return Tunables{}, fmt.Errorf("policy file %s: schedule: %w", path, err)
	}
	t.Schedule = s

	if f.RateLimitPerMinute <= 0 || f.RateLimitBurst < 1 {
		return Tunables{}, fmt.Errorf("policy file %s: rate_limit_per_minute and rate_limit_burst must be positive", path)
	}
	t.RatePerMinute = f.RateLimitPerMinute
	t.RateBurst = f.RateLimitBurst
	t.FocusDomains = f.FocusDomains
	return t, nil
}
