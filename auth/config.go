package auth

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Version is the semantic version of this SDK build, reported to the
// authorization service in the sdk_version parameter.
const Version = "1.0.0"

// platformSDK identifies this SDK flavor in authorization requests.
const platformSDK = "go"

// DefaultTokenIdentifier is the storage key used when the application does
// not configure one. The value matches the other platform SDKs so a shared
// credential store resolves the same record.
const DefaultTokenIdentifier = "RidesAccessTokenKey"

// Region selects the authorization environment.
type Region string

const (
	RegionDefault Region = "default"
	RegionChina   Region = "china"
)

// Login and API hosts per region.
const (
	loginHostDefault = "https://login.uber.com"
	loginHostChina   = "https://login.uber.com.cn"

	apiHostDefault      = "https://api.uber.com"
	apiHostChina        = "https://api.uber.com.cn"
	apiHostSandbox      = "https://sandbox-api.uber.com"
	apiHostSandboxChina = "https://sandbox-api.uber.com.cn"

	authorizePath = "/oauth/authorize"
	tokenPath     = "/oauth/token"
)

// CallbackURIs registers the redirect target per flow type. A flow with an
// empty entry can never match in the redirect classifier and cannot start a
// login.
type CallbackURIs struct {
	General           string `yaml:"general"`
	Native            string `yaml:"native"`
	AuthorizationCode string `yaml:"authorization_code"`
	Implicit          string `yaml:"implicit"`
}

// ForFlow returns the registered callback URI for the flow, empty if none.
func (c CallbackURIs) ForFlow(flow FlowType) string {
	switch flow {
	case FlowGeneral:
		return c.General
	case FlowNative:
		return c.Native
	case FlowAuthorizationCode:
		return c.AuthorizationCode
	case FlowImplicit:
		return c.Implicit
	}
	return ""
}

// TokenConfig names the credential-store slot for persisted tokens.
type TokenConfig struct {
	Identifier  string `yaml:"identifier"`
	AccessGroup string `yaml:"access_group"`
}

// Config captures the full SDK configuration loaded from YAML and
// environment variables. Components receive it explicitly at construction;
// there is no process-wide instance. Treat it as read-only once built.
type Config struct {
	ClientID  string       `yaml:"client_id"`
	AppName   string       `yaml:"app_name"`
	Region    Region       `yaml:"region"`
	Sandbox   bool         `yaml:"sandbox"`
	Callbacks CallbackURIs `yaml:"callback_uris"`
	Token     TokenConfig  `yaml:"token"`

	// NativeScheme is the installed rider app's URL scheme used for the
	// native flow handoff.
	NativeScheme string `yaml:"native_scheme"`

	// LoginHost overrides the regional authorization host. Intended for
	// tests and staging environments.
	LoginHost string `yaml:"login_host"`

	// UnauthorizedAsUnknown maps the provider's "unauthorized" redirect
	// error to CodeUnknown instead of the default session-expired
	// CodeTokenExpired.
	UnauthorizedAsUnknown bool `yaml:"unauthorized_as_unknown"`
}

func defaultConfig() Config {
	return Config{
		Region:       RegionDefault,
		Token:        TokenConfig{Identifier: DefaultTokenIdentifier},
		NativeScheme: "uber",
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

// LoadConfig reads the YAML config file, merges environment overrides, and
// validates the result. An empty path loads defaults plus environment only.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		sanitized := stripYAMLComments(b)

		// Strict unmarshaling so typos surface instead of silently
		// falling back to defaults.
		decoder := yaml.NewDecoder(bytes.NewReader(sanitized))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func stripYAMLComments(in []byte) []byte {
	lines := bytes.Split(in, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trim := bytes.TrimLeft(line, " \t")
		if len(trim) > 0 && trim[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"RIDES_CLIENT_ID":          func(v string) { cfg.ClientID = v },
		"RIDES_APP_NAME":           func(v string) { cfg.AppName = v },
		"RIDES_REGION":             func(v string) { cfg.Region = Region(strings.ToLower(strings.TrimSpace(v))) },
		"RIDES_SANDBOX":            func(v string) { cfg.Sandbox = parseBool(v, cfg.Sandbox) },
		"RIDES_CALLBACK_GENERAL":   func(v string) { cfg.Callbacks.General = v },
		"RIDES_CALLBACK_NATIVE":    func(v string) { cfg.Callbacks.Native = v },
		"RIDES_CALLBACK_AUTHCODE":  func(v string) { cfg.Callbacks.AuthorizationCode = v },
		"RIDES_CALLBACK_IMPLICIT":  func(v string) { cfg.Callbacks.Implicit = v },
		"RIDES_TOKEN_IDENTIFIER":   func(v string) { cfg.Token.Identifier = v },
		"RIDES_TOKEN_ACCESS_GROUP": func(v string) { cfg.Token.AccessGroup = v },
		"RIDES_LOGIN_HOST":         func(v string) { cfg.LoginHost = v },
		"RIDES_NATIVE_SCHEME":      func(v string) { cfg.NativeScheme = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

// Validate performs sanity checks on the config. Missing client id, app
// name, or malformed callback URIs return the typed authentication errors
// callers already branch on.
func (c Config) Validate() error {
	if c.ClientID == "" {
		slog.Error("Missing required configuration", "field", "client_id")
		return NewError(CodeInvalidClientID, "client_id is required")
	}
	if c.AppName == "" {
		slog.Error("Missing required configuration", "field", "app_name")
		return NewError(CodeInvalidRequest, "app_name is required")
	}

	switch c.Region {
	case RegionDefault, RegionChina:
	default:
		slog.Error("Invalid configuration value", "field", "region", "value", string(c.Region), "valid_values", []string{"default", "china"})
		return fmt.Errorf("region must be 'default' or 'china', got: %s", c.Region)
	}

	registered := 0
	for _, flow := range flowTypes {
		uri := c.Callbacks.ForFlow(flow)
		if uri == "" {
			continue
		}
		registered++
		u, err := url.Parse(uri)
		if err != nil || u.Scheme == "" {
			slog.Error("Invalid callback URI", "flow", string(flow), "callback_uri", uri, "reason", "must be a URL with a scheme")
			return Errorf(CodeInvalidRedirectURI, "callback_uris.%s is not a valid URI: %s", flow, uri)
		}
	}
	if registered == 0 {
		slog.Error("Missing required configuration", "field", "callback_uris", "reason", "at least one flow callback must be registered")
		return errors.New("at least one callback_uris entry is required")
	}

	if c.LoginHost != "" && !strings.HasPrefix(c.LoginHost, "http://") && !strings.HasPrefix(c.LoginHost, "https://") {
		slog.Error("Invalid configuration value", "field", "login_host", "value", c.LoginHost, "reason", "must start with http:// or https://")
		return fmt.Errorf("login_host must start with http:// or https://, got: %s", c.LoginHost)
	}

	if c.NativeScheme == "" {
		slog.Error("Missing required configuration", "field", "native_scheme")
		return errors.New("native_scheme is required")
	}
	if c.Token.Identifier == "" {
		slog.Error("Missing required configuration", "field", "token.identifier")
		return errors.New("token.identifier is required")
	}

	return nil
}

// loginHost resolves the authorization host for the configured region,
// honoring the override.
func (c Config) loginHost() string {
	if c.LoginHost != "" {
		return strings.TrimSuffix(c.LoginHost, "/")
	}
	if c.Region == RegionChina {
		return loginHostChina
	}
	return loginHostDefault
}

// loginType is the login_type query parameter value for the region.
func (c Config) loginType() string {
	if c.Region == RegionChina {
		return string(RegionChina)
	}
	return string(RegionDefault)
}

// APIHost returns the REST API base for the configured region, switching to
// the sandbox environment when Sandbox is set. Login is unaffected by the
// sandbox flag.
func (c Config) APIHost() string {
	switch {
	case c.Sandbox && c.Region == RegionChina:
		return apiHostSandboxChina
	case c.Sandbox:
		return apiHostSandbox
	case c.Region == RegionChina:
		return apiHostChina
	default:
		return apiHostDefault
	}
}

// CallbackURI returns the redirect target registered for the flow.
func (c Config) CallbackURI(flow FlowType) string {
	return c.Callbacks.ForFlow(flow)
}

// StoreKeyIdentifier returns the credential-store identifier, falling back
// to the shared default.
func (c Config) StoreKeyIdentifier() string {
	if c.Token.Identifier != "" {
		return c.Token.Identifier
	}
	return DefaultTokenIdentifier
}
