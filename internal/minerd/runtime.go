// Package minerd implements the policyminer daemon: an HTTP and websocket
// service that holds behavior logs in memory, runs extraction on demand, and
// streams miner events to attached clients.
package minerd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aumai/policyminer/internal/configstore"
	"github.com/aumai/policyminer/internal/httpserver"
	"github.com/aumai/policyminer/internal/minerd/listen"
	"github.com/aumai/policyminer/internal/redact"
	"github.com/aumai/policyminer/internal/telemetry/otel"
	websockethub "github.com/aumai/policyminer/internal/websocket"
)

type stringFlag struct {
	value string
	set   bool
}

func (s *stringFlag) String() string {
	return s.value
}

func (s *stringFlag) Set(value string) error {
	s.value = value
	s.set = true
	return nil
}

// Main runs the miner daemon using the provided argv slice.
// When args is empty, os.Args is used.
func Main(args []string) error {
	if len(args) == 0 {
		args = os.Args
	}

	cfg, err := parseConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	rt, err := initRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	return rt.Run()
}

// logMinerEvent emits compact structured event logs: event=<name> key=value ...
func logMinerEvent(event string, fields map[string]any) {
	buf := "event=" + event
	for k, v := range fields {
		buf += " " + k + "=" + fmt.Sprint(v)
	}
	log.Print(buf)
}

type runtimeConfig struct {
	ConfigPath    string
	Bind          string
	DisplayURL    string
	EventBuffer   int
	BulkMaxEvents int
	BulkMaxBytes  int
	Store         configstore.Config
	Telemetry     otel.Config
}

type runtimeState struct {
	cfg               *runtimeConfig
	store             *LogStore
	wsHub             *websockethub.WebSocketHub
	redactor          *redact.Manager
	api               *minerAPI
	telemetryProvider *otel.Provider
	closeOnce         sync.Once
}

// parseConfig reads CLI flags, the TOML config, and environment hints to
// build the runtime configuration. Precedence for the listen address is
// flag > MINER_LISTEN > config file > default.
func parseConfig(args []string) (*runtimeConfig, error) {
	name := commandName(args)
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	defaultConfigPath := strings.TrimSpace(os.Getenv("MINER_CONFIG"))
	configPath := fs.String("config", defaultConfigPath, "TOML config file path (optional)")

	listenFlag := &stringFlag{}
	fs.Var(listenFlag, "listen", "Serve the miner API on the provided address (e.g. :18500, 127.0.0.1:18500)")
	fs.Var(listenFlag, "l", "Alias for --listen")

	eventBuffer := fs.Int("event-buffer", 0, "Number of events to keep in memory for new connections (0 = config value)")
	bulkMaxEvents := fs.Int("ws-bulk-max-events", 2000, "Max events to include in initial WebSocket bulk message (0 = unlimited)")
	bulkMaxBytes := fs.Int("ws-bulk-max-bytes", 1_000_000, "Max bytes to include in initial WebSocket bulk message (0 = unlimited)")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags]\n\n", name)
		fmt.Fprintf(fs.Output(), "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(fs.Output(), "\nEnvironment:\n  MINER_CONFIG  Default value for --config\n  MINER_LISTEN  Default value for --listen\n  MINER_HOME    Config directory override\n")
	}

	var flagArgs []string
	if len(args) > 1 {
		flagArgs = args[1:]
	}
	if err := fs.Parse(flagArgs); err != nil {
		return nil, err
	}

	if len(fs.Args()) > 0 {
		return nil, fmt.Errorf("unexpected extra arguments: %v", fs.Args())
	}

	var fileCfg configstore.Config
	var err error
	if path := strings.TrimSpace(*configPath); path != "" {
		fileCfg, err = configstore.LoadFile(path)
	} else {
		fileCfg, err = configstore.Load()
	}
	if err != nil {
		return nil, err
	}

	listenCfg := listen.Default()
	if confListen := strings.TrimSpace(fileCfg.Serve.Listen); confListen != "" {
		parsed, err := listen.Parse(confListen)
		if err != nil {
			return nil, fmt.Errorf("parse serve.listen: %w", err)
		}
		listenCfg = parsed
	}
	if listenFlag.set {
		parsed, err := listen.Parse(listenFlag.value)
		if err != nil {
			return nil, fmt.Errorf("parse --listen: %w", err)
		}
		listenCfg = parsed
	} else if raw, ok := os.LookupEnv("MINER_LISTEN"); ok && strings.TrimSpace(raw) != "" {
		parsed, err := listen.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse MINER_LISTEN: %w", err)
		}
		listenCfg = parsed
	}

	buffer := fileCfg.Serve.EventBuffer
	if *eventBuffer > 0 {
		buffer = *eventBuffer
	}

	cfg := &runtimeConfig{
		ConfigPath:    strings.TrimSpace(*configPath),
		Bind:          listenCfg.Address(),
		DisplayURL:    listenCfg.DisplayURL(),
		EventBuffer:   buffer,
		BulkMaxEvents: *bulkMaxEvents,
		BulkMaxBytes:  *bulkMaxBytes,
		Store:         fileCfg,
		Telemetry:     otel.LoadConfigFromEnv(),
	}
	return cfg, nil
}

func initRuntime(cfg *runtimeConfig) (*runtimeState, error) {
	wsHub := websockethub.NewWebSocketHub(cfg.EventBuffer, cfg.BulkMaxEvents, cfg.BulkMaxBytes)
	go wsHub.Run()

	telemetryProvider, err := otel.Setup(context.Background(), cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	redactor := redact.NewManager()
	seeded := 0
	for id, value := range cfg.Store.Redactions {
		if _, err := redactor.Upsert(id, id, value); err != nil {
			logMinerEvent("redaction.seed", map[string]any{"id": id, "error": err.Error()})
			continue
		}
		seeded++
	}
	if seeded > 0 {
		logMinerEvent("redaction.seed", map[string]any{"count": seeded})
	}

	store := NewLogStore()
	api := newMinerAPI(store, wsHub, redactor, telemetryProvider.Miner(), cfg.Store)

	return &runtimeState{
		cfg:               cfg,
		store:             store,
		wsHub:             wsHub,
		redactor:          redactor,
		api:               api,
		telemetryProvider: telemetryProvider,
	}, nil
}

func (rt *runtimeState) Run() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api", rt.wsHub.HandleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	rt.api.register(mux)
	rt.api.startClientMessageLoop()

	server := httpserver.NewAPIServer(rt.cfg.Bind, mux)

	errCh := make(chan error, 1)
	go func() {
		logMinerEvent("serve.start", map[string]any{"addr": rt.cfg.Bind, "url": rt.cfg.DisplayURL})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve %s: %w", rt.cfg.Bind, err)
	case sig := <-sigCh:
		logMinerEvent("serve.stop", map[string]any{"signal": sig.String()})
		return httpserver.Shutdown(server)
	}
}

func (rt *runtimeState) Close() {
	rt.closeOnce.Do(func() {
		if rt.telemetryProvider != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = rt.telemetryProvider.Shutdown(ctx)
		}
	})
}

func commandName(args []string) string {
	if len(args) == 0 {
		return "policyminer serve"
	}
	if strings.TrimSpace(args[0]) == "" {
		return "policyminer serve"
	}
	return args[0]
}
