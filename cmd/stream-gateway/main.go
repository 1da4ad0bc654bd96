// ABOUTME: Entry point for the stream-gateway server
// ABOUTME: Serves streaming AI sessions over WebSocket and SSE

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/stream-gateway/internal/auth"
	"github.com/2389/stream-gateway/internal/completion"
	"github.com/2389/stream-gateway/internal/config"
	"github.com/2389/stream-gateway/internal/provider"
	"github.com/2389/stream-gateway/internal/session"
	"github.com/2389/stream-gateway/internal/store"
	"github.com/2389/stream-gateway/internal/tools"
	"github.com/2389/stream-gateway/internal/transcript"
	"github.com/2389/stream-gateway/internal/transport"
	"github.com/2389/stream-gateway/internal/workflow"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
      _
  ___| |_ _ __ ___  __ _ _ __ ___         __ ___      __
 / __| __| '__/ _ \/ _' | '_ ' _ \ _____ / _' \ \ /\ / /
 \__ \ |_| | |  __/ (_| | | | | | |_____| (_| |\ V  V /
 |___/\__|_|  \___|\__,_|_| |_| |_|      \__, | \_/\_/
                                         |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: STREAMGW_CONFIG env var > XDG_CONFIG_HOME/stream-gateway/gateway.yaml > ~/.config/stream-gateway/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("STREAMGW_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "stream-gateway", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: stream-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve [--offline]       Start the gateway server")
		fmt.Println("  token <principal>       Generate a JWT for a principal")
		fmt.Println("  apikey <principal>      Generate an API key and its config hash")
		fmt.Println("  health                  Check gateway health")
		fmt.Println("  version                 Print version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "token":
		err = runToken()
	case "apikey":
		err = runAPIKey()
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	offline := false
	for _, arg := range os.Args[2:] {
		switch arg {
		case "--offline":
			offline = true
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.LoadWithOffline(configPath, offline)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Providers.Offline {
		green.Print("    ▶ ")
		fmt.Print("Providers: ")
		yellow.Println("offline (scripted)")
	} else {
		green.Print("    ▶ ")
		fmt.Printf("Providers: gemini (%s)\n", cfg.Providers.Gemini.ChatModel)
	}
	fmt.Println()

	logger.Info("starting stream-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"offline", cfg.Providers.Offline,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	registry := completion.NewRegistry(logger)
	registry.OnCompletion(func(token completion.Token) {
		logger.Debug("workflow completed", "token", token)
	})

	hub := session.NewHub(cfg.Sessions.StaleTimeout, logger)
	defer hub.Close()

	broadcaster := transcript.NewBroadcaster(logger)
	defer broadcaster.Close()

	toolReg := tools.NewRegistry(logger)
	if err := tools.RegisterBuiltins(toolReg, st); err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}
	runner := tools.NewRunner(toolReg, logger)

	chat, speech, err := buildProviders(ctx, cfg, toolReg, registry, logger)
	if err != nil {
		return fmt.Errorf("building providers: %w", err)
	}

	dispatcher := workflow.NewDispatcher(chat, speech, runner, st, broadcaster, cfg.Sessions.SendTimeout, logger)

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	apiKeys := auth.NewAPIKeyStore()
	for principal, hash := range cfg.Auth.APIKeys {
		apiKeys.Seed(principal, []byte(hash))
	}
	srv := transport.New(hub, dispatcher, registry, st, broadcaster, verifier, apiKeys, cfg.Providers.ChatModel(), logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// buildProviders picks the live Gemini stack or the scripted offline one.
func buildProviders(ctx context.Context, cfg *config.Config, toolReg *tools.Registry, registry *completion.Registry, logger *slog.Logger) (provider.Chat, provider.Speech, error) {
	if cfg.Providers.Offline {
		return provider.NewScriptChat(registry), provider.NewScriptSpeech(registry), nil
	}

	var decls []provider.ToolDecl
	for _, tool := range toolReg.List() {
		decls = append(decls, provider.ToolDecl{
			Name:        tool.Name,
			Description: tool.Description,
		})
	}

	chat, err := provider.NewGeminiChat(ctx, cfg.Providers.Gemini.APIKey, cfg.Providers.Gemini.ChatModel, decls, registry, logger)
	if err != nil {
		return nil, nil, err
	}

	var speech provider.Speech
	if cfg.Providers.Gemini.SpeechModel != "" {
		speech = provider.NewGeminiSpeech(chat.Client(), cfg.Providers.Gemini.SpeechModel, cfg.Providers.Gemini.Voice, registry, logger)
	}

	return chat, speech, nil
}

// runToken generates a JWT for a principal using the configured secret.
func runToken() error {
	args := os.Args[2:]
	var principal string
	ttl := 30 * 24 * time.Hour

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			parsed, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = parsed
			i++
		case strings.HasPrefix(arg, "--ttl="):
			parsed, err := time.ParseDuration(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = parsed
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		case principal == "":
			principal = arg
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if principal == "" {
		return fmt.Errorf("usage: stream-gateway token <principal> [--ttl 720h]")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(principal, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

// runAPIKey mints an API key for a principal. The plaintext goes to the
// client; the bcrypt hash goes under auth.api_keys in the config file.
func runAPIKey() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: stream-gateway apikey <principal>")
	}
	principal := os.Args[2]

	key, hash, err := auth.GenerateKey()
	if err != nil {
		return fmt.Errorf("generating API key: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ API key for %s\n", principal)
	fmt.Println()
	fmt.Printf("  Key (give to the client, shown once):\n    %s\n\n", key)
	fmt.Printf("  Add to gateway.yaml:\n")
	fmt.Printf("    auth:\n")
	fmt.Printf("      api_keys:\n")
	fmt.Printf("        %s: \"%s\"\n", principal, hash)
	return nil
}

// healthReport mirrors the /healthz response body.
type healthReport struct {
	Status          string `json:"status"`
	ActiveWorkflows int    `json:"active_workflows"`
	ActiveSessions  int    `json:"active_sessions"`
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	var report healthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ %s\n", report.Status)
	fmt.Printf("    active workflows: %d\n", report.ActiveWorkflows)
	fmt.Printf("    active sessions:  %d\n", report.ActiveSessions)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler renders colorized single-line logs with thread-safe writes.
// Attrs added inside a group carry the dotted group path as a key prefix.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr // keys already carry their group prefix
	prefix string      // dotted path from WithGroup, "" at the root
}

var levelLabels = map[slog.Level]string{
	slog.LevelDebug: color.MagentaString("debug"),
	slog.LevelInfo:  color.CyanString(" info"),
	slog.LevelWarn:  color.YellowString(" warn"),
	slog.LevelError: color.New(color.FgRed, color.Bold).Sprint("error"),
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05.000")))
	buf.WriteString(" ")

	label, ok := levelLabels[r.Level]
	if !ok {
		label = r.Level.String()
	}
	buf.WriteString(label)
	buf.WriteString(" ")

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, h.prefix, a)
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

// writeAttr appends one key=value pair, flattening slog groups into
// dot-separated keys.
func writeAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, member := range a.Value.Group() {
			writeAttr(buf, key, member)
		}
		return
	}

	buf.WriteString(color.HiBlackString(" " + key + "="))
	val := a.Value.String()
	if strings.ContainsAny(val, " \t") {
		val = fmt.Sprintf("%q", val)
	}
	buf.WriteString(val)
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + "." + a.Key
		}
		newAttrs = append(newAttrs, a)
	}
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		prefix: h.prefix,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	prefix := name
	if h.prefix != "" {
		prefix = h.prefix + "." + name
	}
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		prefix: prefix,
	}
}
