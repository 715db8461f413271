package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/astromech-labs/droidvision/internal/broadcast"
	"github.com/astromech-labs/droidvision/internal/config"
	"github.com/astromech-labs/droidvision/internal/encoder"
	"github.com/astromech-labs/droidvision/internal/logger"
	"github.com/astromech-labs/droidvision/internal/metrics"
	"github.com/astromech-labs/droidvision/internal/pipeline"
	"github.com/astromech-labs/droidvision/internal/protocol"
	"github.com/astromech-labs/droidvision/internal/recorder"
	"github.com/astromech-labs/droidvision/internal/server"
	"github.com/astromech-labs/droidvision/internal/source"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the droidvision streaming server",
	Long: `Start the capture/broadcast pipeline and the websocket server.

The capture loop runs on its own goroutine doing blocking camera reads; the
broadcast loop drains the frame buffer, encodes, and fans out to all
connected subscribers.`,
	Example: `  # Stream the default camera on port 8765
  droidvision serve

  # Stream a synthetic test pattern on a custom port
  droidvision serve --source synthetic --port 8770

  # Record frames while streaming
  droidvision serve --record /var/lib/droidvision/frames

  # Replay a recorded frame log
  droidvision serve --source replay --replay-path frames/20260825_101500_frames.dvfl`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("source", "", "frame source (v4l2, synthetic, replay)")
	serveCmd.Flags().String("device", "", "V4L2 device node (default /dev/video0)")
	serveCmd.Flags().Int("fps", 0, "broadcast frames per second")
	serveCmd.Flags().Int("quality", 0, "JPEG quality (1-100)")
	serveCmd.Flags().String("record", "", "record encoded frames to this directory")
	serveCmd.Flags().String("replay-path", "", "frame log for the replay source")

	viper.BindPFlag("source", serveCmd.Flags().Lookup("source"))
	viper.BindPFlag("device", serveCmd.Flags().Lookup("device"))
	viper.BindPFlag("broadcast_fps", serveCmd.Flags().Lookup("fps"))
	viper.BindPFlag("quality", serveCmd.Flags().Lookup("quality"))
	viper.BindPFlag("record_dir", serveCmd.Flags().Lookup("record"))
	viper.BindPFlag("replay_path", serveCmd.Flags().Lookup("replay-path"))
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	if err := configMgr.Override(applyFlagOverrides); err != nil {
		return err
	}
	cfg := configMgr.Get()

	logger.Init(cfg.LogLevel, true)
	log := logger.WithComponent("serve")
	log.Info().Str("config", configMgr.GetConfigPath()).Msg("Configuration loaded")

	// One context cancels both loops and the HTTP server
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := source.New(cfg)
	if err != nil {
		return err
	}

	buf, err := pipeline.NewBuffer(cfg.BufferCapacity)
	if err != nil {
		return err
	}
	stats := pipeline.NewStats()

	capture := pipeline.NewCapture(src, buf, stats, pipeline.CaptureOptions{
		TargetFPS:   cfg.CaptureFPS,
		MaxFailures: cfg.MaxReadFails,
	})

	kind, err := protocol.NormalizeKind(cfg.FrameKind)
	if err != nil {
		return err
	}

	registry := broadcast.NewRegistry()
	bc := broadcast.New(buf, stats, registry, capture.Active, broadcast.Options{
		TargetFPS:         cfg.BroadcastFPS,
		HeartbeatInterval: time.Duration(cfg.HeartbeatSeconds) * time.Second,
		Quality:           cfg.Quality,
		Kind:              kind,
	})
	if cfg.TimestampOverlay {
		bc.AddProcessor(pipeline.NewTimestampOverlay())
	}

	preview := server.NewPreview()
	bc.AddHook(preview.Push)

	if cfg.RecordDir != "" {
		rec, err := recorder.NewWriter(cfg.RecordDir)
		if err != nil {
			return err
		}
		defer rec.Close()
		bc.AddHook(func(ef *encoder.EncodedFrame) {
			if err := rec.Record(ef); err != nil {
				log.Warn().Err(err).Msg("Frame record failed")
			}
		})
	}

	metrics.Register(prometheus.DefaultRegisterer, stats, buf, registry)

	srv := server.NewServer(cfg, registry, bc, preview, src.Name())

	wait, fatal := startLoops(ctx, capture, bc, stop, log)

	log.Info().
		Int("port", cfg.ServerPort).
		Str("source", src.Name()).
		Msg("droidvision is running")

	err = srv.Start(ctx, cfg.ServerPort)

	// Join both loops before returning so the camera handle and every open
	// connection are released while the process is still alive. A capture loop
	// mid hardware read holds the device until its deferred Close runs.
	stop()
	wait()
	buf.Close()
	preview.CloseAll()
	select {
	case ferr := <-fatal:
		if err == nil {
			err = ferr
		}
	default:
	}
	log.Info().Msg("Shutdown complete")
	return err
}

// startLoops runs the capture and broadcast goroutines. The returned wait
// function blocks until both have exited; fatal carries a source failure that
// should take the process down with a nonzero exit.
func startLoops(ctx context.Context, capture *pipeline.Capture, bc *broadcast.Broadcaster, stop context.CancelFunc, log *zerolog.Logger) (wait func(), fatal chan error) {
	fatal = make(chan error, 1)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		bc.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		// SourceExhausted stops only the producer; subscribers keep getting
		// heartbeats with camera_active false. Device acquisition failure at
		// startup is fatal and takes the whole process down.
		err := capture.Run(ctx)
		if err == nil {
			return
		}
		if errors.Is(err, pipeline.ErrSourceExhausted) {
			log.Error().Err(err).Msg("Capture loop terminated, broadcast continues")
			return
		}
		log.Error().Err(err).Msg("Frame source failed")
		fatal <- err
		stop()
	}()

	return wg.Wait, fatal
}

func applyFlagOverrides(cfg *config.Config) {
	if viper.IsSet("server_port") && viper.GetInt("server_port") > 0 {
		cfg.ServerPort = viper.GetInt("server_port")
	}
	if viper.IsSet("log_level") && viper.GetString("log_level") != "" {
		cfg.LogLevel = viper.GetString("log_level")
	}
	if viper.IsSet("source") && viper.GetString("source") != "" {
		cfg.Source = viper.GetString("source")
	}
	if viper.IsSet("device") && viper.GetString("device") != "" {
		cfg.Device = viper.GetString("device")
	}
	if viper.IsSet("broadcast_fps") && viper.GetInt("broadcast_fps") > 0 {
		cfg.BroadcastFPS = viper.GetInt("broadcast_fps")
	}
	if viper.IsSet("quality") && viper.GetInt("quality") > 0 {
		cfg.Quality = viper.GetInt("quality")
	}
	if viper.IsSet("record_dir") && viper.GetString("record_dir") != "" {
		cfg.RecordDir = viper.GetString("record_dir")
	}
	if viper.IsSet("replay_path") && viper.GetString("replay_path") != "" {
		cfg.ReplayPath = viper.GetString("replay_path")
	}
}
