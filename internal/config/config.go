package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rtchat/backend/internal/crypto"
)

type Config struct {
	Port               string        `yaml:"port"`
	LogLevel           string        `yaml:"log_level"`
	LogFormat          string        `yaml:"log_format"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
	Auth0Domain        string        `yaml:"auth0_domain"`
	Auth0Audience      string        `yaml:"auth0_audience"`
	JWTSecret          string        `yaml:"jwt_secret"`
	Management         Management    `yaml:"management"`
	CacheSizeLimit     int64         `yaml:"cache_size_limit"`
	RedisURL           string        `yaml:"redis_url"`
	ProfileMirrorTTL   time.Duration `yaml:"profile_mirror_ttl"`
	MasterKey          string        `yaml:"-"`
	HubRateLimit       int           `yaml:"hub_rate_limit"`
	TrustProxyHeaders  bool          `yaml:"trust_proxy_headers"`
	IdentityTimeout    time.Duration `yaml:"identity_timeout"`
}

// Management holds the identity provider's machine-to-machine settings.
type Management struct {
	BaseAddress          string `yaml:"base_address"`
	TokenEndpoint        string `yaml:"token_endpoint"`
	Audience             string `yaml:"audience"`
	ClientID             string `yaml:"client_id"`
	ClientSecret         string `yaml:"client_secret"`
	UsersByIDEndpoint    string `yaml:"users_by_id_endpoint"`
	UsersByEmailEndpoint string `yaml:"users_by_email_endpoint"`
}

func defaults() Config {
	return Config{
		Port:               "8080",
		LogLevel:           "info",
		LogFormat:          "json",
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		Management: Management{
			TokenEndpoint:        "oauth/token",
			UsersByIDEndpoint:    "api/v2/users",
			UsersByEmailEndpoint: "api/v2/users-by-email",
		},
		CacheSizeLimit:   1 << 20,
		ProfileMirrorTTL: 24 * time.Hour,
		HubRateLimit:     60,
		IdentityTimeout:  10 * time.Second,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE, then environment variables. Values prefixed with "enc:" are
// unsealed with MASTER_KEY.
func Load() (Config, error) {
	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.unseal(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORSAllowedOrigins = splitList(v)
	}
	setString(&c.Auth0Domain, "AUTH0_DOMAIN")
	setString(&c.Auth0Audience, "AUTH0_AUDIENCE")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.Management.BaseAddress, "AUTH0_MGMT_BASE_ADDRESS")
	setString(&c.Management.TokenEndpoint, "AUTH0_MGMT_TOKEN_ENDPOINT")
	setString(&c.Management.Audience, "AUTH0_MGMT_AUDIENCE")
	setString(&c.Management.ClientID, "AUTH0_MGMT_CLIENT_ID")
	setString(&c.Management.ClientSecret, "AUTH0_MGMT_CLIENT_SECRET")
	setString(&c.Management.UsersByIDEndpoint, "AUTH0_MGMT_USERS_BY_ID_ENDPOINT")
	setString(&c.Management.UsersByEmailEndpoint, "AUTH0_MGMT_USERS_BY_EMAIL_ENDPOINT")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.MasterKey, "MASTER_KEY")

	if v := os.Getenv("CACHE_SIZE_LIMIT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CACHE_SIZE_LIMIT: %w", err)
		}
		c.CacheSizeLimit = n
	}
	if v := os.Getenv("HUB_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HUB_RATE_LIMIT: %w", err)
		}
		c.HubRateLimit = n
	}
	if v := os.Getenv("TRUST_PROXY_HEADERS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TRUST_PROXY_HEADERS: %w", err)
		}
		c.TrustProxyHeaders = b
	}
	if err := setDuration(&c.ProfileMirrorTTL, "PROFILE_MIRROR_TTL"); err != nil {
		return err
	}
	return setDuration(&c.IdentityTimeout, "IDENTITY_TIMEOUT")
}

func (c *Config) unseal() error {
	secrets := map[string]*string{
		"JWT_SECRET":               &c.JWTSecret,
		"AUTH0_MGMT_CLIENT_SECRET": &c.Management.ClientSecret,
		"REDIS_URL":                &c.RedisURL,
	}
	var sealer *crypto.Sealer
	for name, value := range secrets {
		if !strings.HasPrefix(*value, crypto.Prefix) {
			continue
		}
		if sealer == nil {
			s, err := crypto.NewSealer(c.MasterKey)
			if err != nil {
				return fmt.Errorf("unseal %s: %w", name, err)
			}
			sealer = s
		}
		plain, err := sealer.Open(name, *value)
		if err != nil {
			return fmt.Errorf("unseal %s: %w", name, err)
		}
		*value = plain
	}
	return nil
}

// Validate reports every missing setting the server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.Auth0Domain == "" && c.JWTSecret == "" {
		errs = append(errs, errors.New("one of AUTH0_DOMAIN or JWT_SECRET is required"))
	}
	required := []struct {
		name  string
		value string
	}{
		{"AUTH0_MGMT_BASE_ADDRESS", c.Management.BaseAddress},
		{"AUTH0_MGMT_AUDIENCE", c.Management.Audience},
		{"AUTH0_MGMT_CLIENT_ID", c.Management.ClientID},
		{"AUTH0_MGMT_CLIENT_SECRET", c.Management.ClientSecret},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}
	if c.CacheSizeLimit <= 0 {
		errs = append(errs, errors.New("CACHE_SIZE_LIMIT must be positive"))
	}
	return errors.Join(errs...)
}

// Summary lists the non-secret settings, for the home endpoint.
func (c Config) Summary() map[string]string {
	return map[string]string{
		"auth0_audience":                     c.Auth0Audience,
		"auth0_domain":                       c.Auth0Domain,
		"cors_allowed_origins":               strings.Join(c.CORSAllowedOrigins, ","),
		"auth0_mgmt_audience":                c.Management.Audience,
		"auth0_mgmt_base_address":            c.Management.BaseAddress,
		"auth0_mgmt_client_id":               c.Management.ClientID,
		"auth0_mgmt_token_endpoint":          c.Management.TokenEndpoint,
		"cache_size_limit":                   strconv.FormatInt(c.CacheSizeLimit, 10),
		"auth0_mgmt_users_by_email_endpoint": c.Management.UsersByEmailEndpoint,
		"auth0_mgmt_users_by_id_endpoint":    c.Management.UsersByIDEndpoint,
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
