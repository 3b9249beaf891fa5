// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/nowplaying/internal/api/connect"
	"github.com/osa030/nowplaying/internal/app/navigation"
	"github.com/osa030/nowplaying/internal/app/session"
	"github.com/osa030/nowplaying/internal/infra/catalog"
	"github.com/osa030/nowplaying/internal/infra/config"
	"github.com/osa030/nowplaying/internal/infra/engine"
	"github.com/osa030/nowplaying/internal/infra/logger"
)

var (
	app        = kingpin.New("nowplaying-server", "nowplaying playback server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (overrides log.file)").String()

	// list-tracks command
	listTracksCmd = app.Command("list-tracks", "Print the catalog and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags win over the config file
	loggerConfig := logger.Config{
		Output:     cfg.Log.Output,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logCloser.Close()

	zlog.Info().Msgf("Loaded config from %s", *configPath)

	cat, err := catalog.Load(cfg.Catalog.Path, cfg.Catalog.EnrichTags)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load catalog: %v", err)
	}

	if command == listTracksCmd.FullCommand() {
		printTracks(cat)
		return
	}

	if err := run(cfg, cat); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config, cat *catalog.Catalog) error {
	eng, err := engine.New(cfg.Engine)
	if err != nil {
		return errors.Wrap(err, "failed to create engine")
	}
	defer func() {
		if err := eng.Close(); err != nil {
			zlog.Error().Msgf("Failed to close engine: %v", err)
		}
	}()

	router := navigation.NewRouter(cfg.Navigation.DefaultScreen)

	sessionMgr := session.NewManager(cfg, cat, eng, router)
	if err := sessionMgr.Start(); err != nil {
		sessionMgr.Close()
		return errors.Wrap(err, "failed to start session")
	}

	playerService := apiconnect.NewPlayerService(sessionMgr)

	mux := http.NewServeMux()
	playerPath, playerHandler := apiconnect.NewPlayerServiceHandler(
		playerService,
		connect.WithInterceptors(apiconnect.NewAuthInterceptor(cfg.API.Token)),
	)
	mux.Handle(playerPath, playerHandler)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s engine=%s tracks=%d", cfg.Server.Addr, cfg.Engine.Type, cat.Len())
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case <-sessionMgr.Done():
		zlog.Info().Msg("Session ended, shutting down...")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close session manager first to terminate active streams
	sessionMgr.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// printTracks prints the catalog.
func printTracks(cat *catalog.Catalog) {
	fmt.Printf("Catalog (%d tracks):\n", cat.Len())
	for _, t := range cat.Tracks() {
		fmt.Printf("  %-12s %5s  %s - %s", t.ID, t.DisplayDuration(), t.Title, t.Artist)
		if t.Genre != "" {
			fmt.Printf(" [%s]", t.Genre)
		}
		fmt.Println()
	}
	if genres := cat.Genres(); len(genres) > 0 {
		fmt.Printf("Genres: %v\n", genres)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
