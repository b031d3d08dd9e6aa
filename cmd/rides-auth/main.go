// Command rides-auth logs a rider in from the terminal and manages the
// resulting credential: guided configuration setup, login through the
// system browser with a loopback callback, token inspection with automatic
// refresh, and logout.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/uber/rides-go-sdk/auth"
	"github.com/uber/rides-go-sdk/loopback"
	"github.com/uber/rides-go-sdk/tokenstore"
)

const passphraseEnv = "RIDES_STORE_PASSPHRASE"

func main() {
	configPath := flag.String("config", os.Getenv("RIDES_CONFIG"), "Path to YAML config")
	logLevel := flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	flag.StringVar(logLevel, "l", "info", "Alias for -log-level")
	envFile := flag.String("env-file", "", "Env file loaded before reading configuration")
	storeDir := flag.String("store-dir", defaultStoreDir(), "Directory for the encrypted token store")
	timeout := flag.Duration("timeout", 5*time.Minute, "Login timeout")
	flag.Parse()

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", *logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("load env file %s: %v", *envFile, err)
		}
	} else {
		// Best-effort ./.env, same lookup the example apps use.
		_ = godotenv.Load()
	}

	args := flag.Args()
	if len(args) == 0 {
		log.Fatalf("usage: %s [flags] <config init|config validate|login [scope...]|token|logout>", os.Args[0])
	}

	configFile := *configPath
	if configFile == "" {
		configFile = "./rides.yaml"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "config":
		if len(args) < 2 {
			log.Fatalf("usage: %s config <init|validate>", os.Args[0])
		}
		switch args[1] {
		case "init":
			if err := runConfigInit(configFile, logger); err != nil {
				log.Fatalf("config init failed: %v", err)
			}
			logger.Info("configuration initialized", "path", configFile)
		case "validate":
			if err := runConfigValidate(ctx, configFile, logger); err != nil {
				log.Fatalf("config validation failed: %v", err)
			}
			logger.Info("configuration is valid", "path", configFile)
		default:
			log.Fatalf("unknown config command %q. Use 'init' or 'validate'", args[1])
		}
	case "login":
		cfg := mustLoadConfig(configFile, logger)
		slot, err := openSlot(*storeDir, &cfg)
		if err != nil {
			log.Fatalf("open token store: %v", err)
		}
		loginCtx, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()
		scopes := parseScopeArgs(args[1:])
		surface := loopback.New(loopback.WithLogger(logger))
		if err := runLogin(loginCtx, cfg, logger, slot, scopes, surface); err != nil {
			logger.Error("login failed", "error", err, "code", auth.CodeOf(err))
			os.Exit(1)
		}
	case "token":
		cfg := mustLoadConfig(configFile, logger)
		slot, err := openSlot(*storeDir, &cfg)
		if err != nil {
			log.Fatalf("open token store: %v", err)
		}
		if err := runToken(ctx, cfg, logger, slot); err != nil {
			logger.Error("token lookup failed", "error", err, "code", auth.CodeOf(err))
			os.Exit(1)
		}
	case "logout":
		cfg := mustLoadConfig(configFile, logger)
		slot, err := openSlot(*storeDir, &cfg)
		if err != nil {
			log.Fatalf("open token store: %v", err)
		}
		if err := runLogout(ctx, logger, slot); err != nil {
			logger.Error("logout failed", "error", err)
			os.Exit(1)
		}
	default:
		log.Fatalf("unknown command %q", args[0])
	}
}

func mustLoadConfig(path string, logger *slog.Logger) auth.Config {
	cfg, err := loadConfig(path, logger)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	return cfg
}

func loadConfig(path string, logger *slog.Logger) (auth.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return auth.Config{}, fmt.Errorf("config file not found at %s. Run 'config init' to create it", path)
		}
		return auth.Config{}, fmt.Errorf("stat config: %w", err)
	}
	logger.Debug("loading config", "path", path)
	return auth.LoadConfig(path)
}

// openSlot opens the encrypted file store and narrows it to the config's
// token slot. The passphrase comes from RIDES_STORE_PASSPHRASE or an
// interactive prompt.
func openSlot(dir string, cfg *auth.Config) (tokenstore.Slot, error) {
	pass := os.Getenv(passphraseEnv)
	if pass == "" {
		pass = askRequired(bufio.NewReader(os.Stdin), "Token store passphrase")
	}
	store, err := tokenstore.NewFile(tokenstore.FileConfig{
		Dir:        dir,
		Passphrase: []byte(pass),
	})
	if err != nil {
		return tokenstore.Slot{}, err
	}
	return tokenstore.SlotFor(store, cfg), nil
}

func runLogin(ctx context.Context, cfg auth.Config, logger *slog.Logger, slot tokenstore.Slot, scopes auth.ScopeSet, surface auth.Surface) error {
	flow := auth.FlowAuthorizationCode
	if cfg.CallbackURI(flow) == "" {
		return errors.New("callback_uris.authorization_code must be configured for CLI login")
	}

	manager, err := auth.NewLoginManager(&cfg, slot, flow, auth.WithLogger(logger))
	if err != nil {
		return err
	}

	logger.Info("starting login", "flow", flow, "callback", cfg.CallbackURI(flow), "scopes", scopes.String())
	token, err := manager.Login(ctx, scopes, surface)
	if err != nil {
		return err
	}
	printToken(token)
	return nil
}

func runToken(ctx context.Context, cfg auth.Config, logger *slog.Logger, slot tokenstore.Slot) error {
	var refresher auth.Refresher
	if flow := auth.FlowAuthorizationCode; cfg.CallbackURI(flow) != "" {
		client, err := auth.NewOAuthClient(&cfg, flow, nil, logger)
		if err != nil {
			return err
		}
		refresher = client
	}

	source := auth.NewTokenSource(slot, refresher, nil, logger)
	token, err := source.Token(ctx)
	if err != nil {
		return err
	}
	printToken(token)
	return nil
}

func runLogout(ctx context.Context, logger *slog.Logger, slot tokenstore.Slot) error {
	existed, err := slot.Delete(ctx)
	if err != nil {
		return err
	}
	if existed {
		logger.Info("token removed")
		fmt.Println("Logged out.")
	} else {
		fmt.Println("No stored token.")
	}
	return nil
}

// parseScopeArgs turns command arguments into a scope set, defaulting to
// the profile scope.
func parseScopeArgs(args []string) auth.ScopeSet {
	if len(args) == 0 {
		return auth.NewScopeSet(auth.ScopeProfile)
	}
	return auth.ParseScopes(strings.Join(args, " "))
}

func printToken(token *auth.AccessToken) {
	fmt.Printf("Access token:  %s\n", maskSecret(token.Token))
	if token.RefreshToken != "" {
		fmt.Printf("Refresh token: %s\n", maskSecret(token.RefreshToken))
	}
	if token.ExpiresAt.IsZero() {
		fmt.Println("Expires:       unknown")
	} else {
		fmt.Printf("Expires:       %s (%s)\n", token.ExpiresAt.Format(time.RFC3339), time.Until(token.ExpiresAt).Round(time.Second))
	}
	if !token.Scopes.Empty() {
		fmt.Printf("Scopes:        %s\n", token.Scopes.String())
	}
}

func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return secret
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

func runConfigInit(path string, logger *slog.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s. Remove it first or use a different path", path)
	}
	_, err := runSetup(path, logger)
	return err
}

func runConfigValidate(ctx context.Context, path string, logger *slog.Logger) error {
	cfg, err := auth.LoadConfig(path)
	if err != nil {
		return err
	}

	// Reachability is advisory: offline validation already passed.
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	authorizeURL := auth.Endpoint(&cfg).AuthURL
	if err := checkURL(checkCtx, authorizeURL); err != nil {
		logger.Warn("authorization endpoint may not be reachable", "url", authorizeURL, "error", err)
	} else {
		logger.Info("authorization endpoint is reachable", "url", authorizeURL)
	}
	return nil
}

func checkURL(ctx context.Context, target string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("received status %d", resp.StatusCode)
	}
	return nil
}

func runSetup(path string, logger *slog.Logger) (auth.Config, error) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("No configuration file found at %s.\n", path)
	fmt.Println("Starting guided setup. Press Enter to accept defaults.")

	cfg := auth.DefaultConfig()
	cfg.ClientID = askRequired(reader, "Application client ID")
	cfg.AppName = askRequired(reader, "Application display name")

	region := ask(reader, "Region (default or china)", string(auth.RegionDefault))
	cfg.Region = auth.Region(strings.ToLower(strings.TrimSpace(region)))
	cfg.Sandbox = askYesNo(reader, "Use the sandbox API environment?", false)

	cfg.Callbacks.AuthorizationCode = ask(reader, "Login callback URI", "http://127.0.0.1:8282/callback")
	if askYesNo(reader, "Register a web (general flow) callback too?", false) {
		cfg.Callbacks.General = askRequired(reader, "General callback URI")
	}

	if err := writeConfigFile(path, cfg); err != nil {
		return auth.Config{}, err
	}
	logger.Info("configuration created", "path", path)

	return auth.LoadConfig(path)
}

func ask(reader *bufio.Reader, prompt, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", prompt, def)
	} else {
		fmt.Printf("%s: ", prompt)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return strings.TrimSpace(def)
	}
	return input
}

func askRequired(reader *bufio.Reader, prompt string) string {
	for {
		fmt.Printf("%s: ", prompt)
		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input != "" {
			return input
		}
		fmt.Println("This value is required. Please enter a value.")
	}
}

func askYesNo(reader *bufio.Reader, prompt string, def bool) bool {
	defLabel := "Y"
	if !def {
		defLabel = "N"
	}
	for {
		fmt.Printf("%s [%s]: ", prompt, defLabel)
		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(strings.ToLower(input))
		if input == "" {
			return def
		}
		switch input {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		default:
			fmt.Println("Please enter 'y' or 'n'.")
		}
	}
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level")
	}
}

func writeConfigFile(path string, cfg auth.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rides"
	}
	return filepath.Join(home, ".rides", "tokens")
}
