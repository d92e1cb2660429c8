package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/gamefeed/pkg/api"
	"github.com/cuemby/gamefeed/pkg/config"
	"github.com/cuemby/gamefeed/pkg/events"
	"github.com/cuemby/gamefeed/pkg/feed"
	"github.com/cuemby/gamefeed/pkg/gamestate"
	"github.com/cuemby/gamefeed/pkg/log"
	"github.com/cuemby/gamefeed/pkg/metrics"
	"github.com/cuemby/gamefeed/pkg/recorder"
	"github.com/cuemby/gamefeed/pkg/storage"
	"github.com/cuemby/gamefeed/pkg/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	flushCheckInterval = time.Second
	sessionStopTimeout = 10 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline over a feed",
	Long: `Run the event pipeline. Frames are read as newline-delimited JSON from
--input (or stdin) and published onto the event bus, where the event store
persists them and the recorder captures complete games.

Configuration comes from --config, then GAMEFEED_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		input, _ := cmd.Flags().GetString("input")
		speed, _ := cmd.Flags().GetFloat64("speed")
		follow, _ := cmd.Flags().GetBool("follow")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("log-level") {
			log.Init(cfg.LogConfig(os.Stderr))
		}
		metrics.SetVersion(Version)

		r, closeInput, err := openInput(input)
		if err != nil {
			return err
		}
		defer closeInput()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runPipeline(ctx, stop, cfg, r, feed.Options{
			Speed:         speed,
			MaxQueueDepth: cfg.Bus.QueueSize * 3 / 4,
		}, follow)
	},
}

func init() {
	runCmd.Flags().String("config", "", "Path to a YAML config file")
	runCmd.Flags().String("input", "-", "Feed file of NDJSON frames (- for stdin)")
	runCmd.Flags().Float64("speed", 0, "Replay at recorded pace multiplied by this factor (0 = as fast as possible)")
	runCmd.Flags().Bool("follow", false, "Keep running after the feed ends")
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open feed: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func runPipeline(ctx context.Context, cancel context.CancelFunc, cfg config.Config, input io.Reader, opts feed.Options, follow bool) (err error) {
	logger := log.WithComponent("run")

	bus := events.New(cfg.BusConfig())
	bus.Start()
	busStopped := false
	stopBus := func() {
		if !busStopped {
			busStopped = true
			bus.Stop()
		}
	}
	defer stopBus()

	rec, err := recorder.New(cfg.RecorderConfig(), recorder.Callbacks{
		OnGameRecorded: func(meta types.GameMeta) {
			logger.Info().
				Str("game_id", meta.GameID).
				Int("ticks", meta.DurationTicks).
				Str("peak", meta.PeakMultiplier.String()).
				Msg("game recorded")
		},
		OnSessionComplete: func(summary recorder.SessionSummary) {
			logger.Info().
				Str("session_id", summary.Session.SessionID).
				Str("reason", summary.Reason).
				Int("games", summary.Session.GamesRecorded).
				Int("actions", summary.ActionsRecorded).
				Msg("recording session complete")
		},
	})
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	if cfg.Recorder.Enabled {
		if sessionID, err = rec.StartSession(cfg.Recorder.Limits); err != nil {
			return fmt.Errorf("failed to start recording session: %w", err)
		}
	}
	logger = logger.With().Str("session_id", sessionID).Logger()

	catalog, err := storage.NewBoltCatalog(cfg.Store.Dir)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := catalog.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("failed to close catalog")
		}
	}()

	store, err := storage.NewEventStore(bus, cfg.StoreConfig(sessionID), catalog)
	if err != nil {
		return err
	}
	if err := store.Start(); err != nil {
		return err
	}

	controller := recorder.NewController(bus, rec)
	controller.Start()

	// Shutdown order matters: the bus drains into the store and controller
	// before the session is closed and the store flushes.
	defer func() {
		if !bus.WaitIdle(cfg.Bus.StopTimeout) {
			logger.Warn().Msg("event bus did not drain before shutdown")
		}
		stopBus()
		controller.Stop()

		stopCtx, cancelStop := context.WithTimeout(context.Background(), sessionStopTimeout)
		defer cancelStop()
		if serr := rec.StopSession(stopCtx); serr != nil && !errors.Is(serr, recorder.ErrNoSession) {
			err = errors.Join(err, serr)
		}
		if serr := store.Stop(); serr != nil {
			err = errors.Join(err, fmt.Errorf("final flush failed: %w", serr))
		}
		stats := store.Stats()
		logger.Info().
			Uint64("files", stats.FilesWritten).
			Uint64("rows", stats.RowsWritten).
			Msg("pipeline stopped")
	}()

	collector := newCollector(bus, store, rec, controller.Machine())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stats, err := feed.NewReplayer(bus, opts).Replay(gctx, input)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info().Int("published", stats.Published).Int("malformed", stats.Malformed).Msg("feed finished")
		if !follow {
			cancel()
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(flushCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := store.FlushIfDue(); err != nil {
					logger.Warn().Err(err).Msg("periodic flush failed, rows retained")
				}
			}
		}
	})

	g.Go(func() error {
		return collector.Run(gctx)
	})

	if cfg.Server.Enabled {
		hs := api.NewHealthServer(api.Sources{
			Bus:      bus,
			Store:    store,
			Recorder: rec,
			Phases:   controller.Machine(),
		})
		g.Go(func() error {
			return hs.Serve(gctx, cfg.Server.Addr)
		})
	}

	logger.Info().Bool("recording", cfg.Recorder.Enabled).Msg("pipeline running")
	return g.Wait()
}

func newCollector(bus *events.Bus, store *storage.EventStore, rec *recorder.Recorder, machine *gamestate.Machine) *metrics.Collector {
	c := metrics.NewCollector(5 * time.Second)
	c.Track(metrics.BusQueueDepth, func() float64 {
		return float64(bus.QueueDepth())
	})
	c.Track(metrics.BusSubscribers, func() float64 {
		return float64(bus.Stats().SubscriberCount)
	})
	c.Track(metrics.StoreRowsBuffered, func() float64 {
		return float64(store.EventCount())
	})
	c.Track(metrics.IntegrityTriggered, func() float64 {
		if rec.Status().Integrity.Triggered {
			return 1
		}
		return 0
	})
	c.Track(metrics.SessionGamesRecorded, func() float64 {
		if s := rec.Status().Session; s != nil {
			return float64(s.GamesRecorded)
		}
		return 0
	})

	phases := make([]string, 0, len(gamestate.Phases))
	for _, p := range gamestate.Phases {
		phases = append(phases, string(p))
	}
	c.TrackState(metrics.PhaseCurrent, phases, func() string {
		return string(machine.Phase())
	})
	return c
}
