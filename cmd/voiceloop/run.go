package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/realtime-ai/voiceloop/pkg/capture"
	"github.com/realtime-ai/voiceloop/pkg/config"
	"github.com/realtime-ai/voiceloop/pkg/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	noServer bool
	realtime bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Listen on the microphone and answer until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if noServer {
			cfg.Server.Enabled = false
		}
		return run(cmd.Context(), cfg)
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay <file.wav>",
	Short: "Run the full turn pipeline over a recorded WAV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return replay(cmd.Context(), cfg, args[0])
	},
}

func init() {
	runCmd.Flags().BoolVar(&noServer, "no-server", false, "do not start the control server")
	replayCmd.Flags().BoolVar(&realtime, "realtime", false, "pace the file at the audio rate")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// run listens until ctx is cancelled or a signal arrives.
func run(parent context.Context, cfg *config.Config) error {
	ctx, stop := signalContext(parent)
	defer stop()

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.start(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.printResults(ctx)
		return nil
	})

	if cfg.Server.Enabled {
		srvCfg := server.DefaultConfig()
		srvCfg.Addr = cfg.Server.Addr
		srvCfg.AuthToken = cfg.Server.AuthToken
		srvCfg.Gatherer = a.registry
		srv := server.New(srvCfg, a.engine)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		})
	}

	if err := a.engine.StartListening(); err != nil {
		// the server can retry once the device is back
		if !cfg.Server.Enabled {
			return err
		}
		log.Printf("[voiceloop] capture unavailable: %v", err)
	}

	log.Printf("[voiceloop] listening; press Ctrl+C to exit")
	<-ctx.Done()
	log.Printf("[voiceloop] shutting down")
	return g.Wait()
}

// replay feeds a WAV file through the engine and returns once every
// utterance in it has been answered.
func replay(parent context.Context, cfg *config.Config, path string) error {
	ctx, stop := signalContext(parent)
	defer stop()

	a, err := openReplay(cfg, path, realtime)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.start(ctx); err != nil {
		return err
	}

	printCtx, cancelPrint := context.WithCancel(ctx)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		a.printResults(printCtx)
	}()

	if err := a.engine.StartListening(); err != nil {
		cancelPrint()
		<-printed
		return err
	}

	a.waitIdle(ctx)

	// let the last result reach the printer
	time.Sleep(100 * time.Millisecond)
	cancelPrint()
	<-printed

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openReplay builds an app that reads path instead of the microphone.
// Unless paced, the detector runs on audio time so the file is consumed as
// fast as it can be read.
func openReplay(cfg *config.Config, path string, paced bool) (*app, error) {
	src, err := capture.OpenWAV(path, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	src.Realtime = paced
	src.TrailingSilence = cfg.VAD.SilenceDuration + cfg.VAD.ChunkInterval*10
	cfg.VAD.Format = src.Format()
	cfg.Server.Enabled = false

	a, err := newApp(cfg, src)
	if err != nil {
		return nil, err
	}
	if !paced {
		a.loop.SetClock(src.Clock(time.Now()))
	}
	return a, nil
}

// waitIdle blocks until capture has hit the end of its source and no turn
// is in flight, or ctx is done.
func (a *app) waitIdle(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.loop.Running() && !a.engine.Busy() {
				return
			}
		}
	}
}
