// Package main provides the tapedeck player entry point.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/soundloft/tapedeck/internal/api/httpapi"
	"github.com/soundloft/tapedeck/internal/app/broadcast"
	"github.com/soundloft/tapedeck/internal/app/output"
	"github.com/soundloft/tapedeck/internal/app/playback"
	"github.com/soundloft/tapedeck/internal/app/queue"
	"github.com/soundloft/tapedeck/internal/domain/track"
	"github.com/soundloft/tapedeck/internal/infra/catalog"
	"github.com/soundloft/tapedeck/internal/infra/config"
	"github.com/soundloft/tapedeck/internal/infra/logger"
	"github.com/soundloft/tapedeck/internal/surface/miniplayer"
	"github.com/soundloft/tapedeck/internal/surface/playlistpanel"
)

var (
	app        = kingpin.New("tapedeck", "tapedeck track player")
	configPath = app.Flag("config", "Path to config file").Default("config/tapedeck.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stderr)").String()

	// play command
	playCmd     = app.Command("play", "Start the player and play a project's tracks")
	playProject = playCmd.Arg("project", "Project ID to play").Required().String()
	playRepeat  = playCmd.Flag("repeat", "Repeat mode: off, one or all").Default("off").Enum("off", "one", "all")
)

func init() {
	// start command (default)
	app.Command("start", "Start the player (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stderr",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg, command); err != nil {
		zlog.Error().Msgf("Player error: %v", err)
		os.Exit(1)
	}
}

// run executes the main player logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config, command string) error {
	hub := broadcast.NewHub()
	defer hub.Close()

	store := queue.NewStore(cfg.Queue.Path, hub)
	defer store.Close()

	speaker := output.NewSpeaker(output.SpeakerConfig{
		PollInterval: cfg.PollInterval(),
		FetchTimeout: cfg.FetchTimeout(),
		Volume:       cfg.Output.Volume,
	})
	defer speaker.Close()

	ctrl := playback.NewController(store, speaker, hub, playback.Config{
		RestartThreshold: cfg.RestartThreshold(),
	})
	defer ctrl.Close()

	// Mount the miniplayer surface
	barCfg := cfg.Surface("miniplayer")
	if barCfg.Enabled {
		settings, err := miniplayer.SettingsFromMap(barCfg.Settings)
		if err != nil {
			return err
		}
		bar := miniplayer.New(os.Stdout, ctrl, hub, settings)
		defer bar.Close()
		go bar.Run()
	}

	// Start the remote surface
	var serverErrCh chan error
	var server *http.Server
	if !cfg.Server.Disabled {
		api := httpapi.New(ctrl, hub)
		server = &http.Server{
			Addr:    cfg.Server.Addr,
			Handler: h2c.NewHandler(api.Handler(), &http2.Server{}),
		}
		serverErrCh = make(chan error, 1)
		go func() {
			zlog.Info().Msgf("Starting remote surface: addr=%s", cfg.Server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErrCh <- err
			}
		}()
	}

	if command == playCmd.FullCommand() {
		if err := playProjectDirect(cfg, ctrl, hub); err != nil {
			return err
		}
	}

	// Read stdin commands until EOF or shutdown
	stdinDone := make(chan struct{})
	go func() {
		defer close(stdinDone)
		repl(ctrl)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case <-stdinDone:
		zlog.Info().Msg("Input closed, shutting down...")
	case err := <-serverErrCh:
		return err
	}

	ctrl.Stop()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Msgf("Failed to shutdown remote surface: %v", err)
		}
	}

	zlog.Info().Msg("Player stopped")
	return nil
}

// playProjectDirect fetches a project from the catalog and starts direct
// playback through the playlist panel surface. The panel stays mounted on
// the hub so its active-row marker follows playback.
func playProjectDirect(cfg *config.Config, ctrl *playback.Controller, hub *broadcast.Hub) error {
	if cfg.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog.base_url is required for the play command")
	}

	client := catalog.New(context.Background(), catalog.Config{
		BaseURL: cfg.Catalog.BaseURL,
		Token:   cfg.Catalog.Token,
		Timeout: cfg.CatalogTimeout(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CatalogTimeout())
	defer cancel()
	project, err := client.ProjectTracks(ctx, *playProject)
	if err != nil {
		return err
	}
	if len(project.Tracks) == 0 {
		return fmt.Errorf("project %s has no tracks", *playProject)
	}

	settings := playlistpanel.Settings{Repeat: *playRepeat}
	panel := playlistpanel.New(ctrl, project.Title, project.Tracks, settings.RepeatMode())

	first := panel.Render()
	fmt.Println(first)

	// Re-render whenever a broadcast moves the active-row marker. The
	// subscription ends when the hub closes at shutdown.
	_, ch := hub.Subscribe(32)
	go func() {
		last := first
		for m := range ch {
			panel.Apply(m)
			if m.Kind != broadcast.KindStateChanged {
				continue
			}
			if out := panel.Render(); out != last {
				fmt.Println(out)
				last = out
			}
		}
	}()

	return panel.Play(0)
}

// repl reads transport commands from stdin. Used as the local control
// surface when running in a terminal.
func repl(ctrl *playback.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return
		}
		if err := dispatch(ctrl, fields); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func dispatch(ctrl *playback.Controller, fields []string) error {
	switch fields[0] {
	case "play":
		index := 0
		if len(fields) > 1 {
			i, err := strconv.Atoi(fields[1])
			if err != nil {
				return fmt.Errorf("play takes a queue index: %v", err)
			}
			index = i
		}
		return ctrl.PlayQueue(index)
	case "pause", "p":
		return ctrl.TogglePause()
	case "next", "n":
		return ctrl.Next()
	case "prev", "b":
		return ctrl.Previous()
	case "stop":
		ctrl.Stop()
		return nil
	case "seek":
		if len(fields) < 2 {
			return fmt.Errorf("seek takes seconds")
		}
		sec, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Errorf("seek takes seconds: %v", err)
		}
		return ctrl.Seek(time.Duration(sec * float64(time.Second)))
	case "vol":
		if len(fields) < 2 {
			return fmt.Errorf("vol takes a level 0..1")
		}
		level, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Errorf("vol takes a level 0..1: %v", err)
		}
		ctrl.SetVolume(level)
		return nil
	case "add":
		if len(fields) < 3 {
			return fmt.Errorf("add takes an id and an audio url")
		}
		t := track.Track{ID: fields[1], Title: fields[1], AudioURL: fields[2]}
		if !ctrl.AddToQueue(t) {
			fmt.Println("already queued")
		}
		return nil
	case "rm":
		if len(fields) < 2 {
			return fmt.Errorf("rm takes a track id")
		}
		ctrl.RemoveFromQueue(fields[1])
		return nil
	case "clear":
		ctrl.ClearQueue()
		return nil
	case "queue", "q":
		for i, it := range ctrl.Queue() {
			fmt.Printf("%2d  %s\n", i, it.Track.Title)
		}
		return nil
	case "status", "s":
		st := ctrl.Status()
		if st.Track == nil {
			fmt.Println("idle")
			return nil
		}
		fmt.Printf("%s [%s] playing=%v %v/%v\n",
			st.Track.Title, st.Source, st.Playing, st.Position.Round(time.Second), st.Duration.Round(time.Second))
		return nil
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}
