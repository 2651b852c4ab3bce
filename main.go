// Copyright 2024 The Smelt Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// smelt converts and combines archive media by driving an external ffmpeg
// binary. It runs either as a one shot CLI (combine, convert) or as a
// queue service with an HTTP API (serve).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/logger"
	"github.com/kardianos/service"
	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/smeltproject/smelt/internal/pkg/config"
	"github.com/smeltproject/smelt/internal/pkg/ffwrap"
	"github.com/smeltproject/smelt/internal/pkg/ffwrap/command"
)

const version = "1.2.0"

var (
	cfg        *config.SmeltConfig
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "smelt",
		Short:         "convert and combine archive media with ffmpeg",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.ParseConfig(configPath)
			initLogging()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath, "path to the yaml configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr as well as the log file")

	root.AddCommand(serveCommand(), serviceCommand(), combineCommand(), convertCommand(), versionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging() {
	out := io.Writer(io.Discard)
	if f, err := os.OpenFile(filepath.Join(*cfg.LogDirectory, "smelt.log"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
		out = f
	}
	logger.Init("smelt", verbose, true, out)
}

// setupBinaries resolves the ffmpeg/ffprobe locations from the config and
// probes hardware acceleration once for the life of the process.
func setupBinaries(ctx context.Context) {
	ffmpeg := ffwrap.ResolveFfmpeg(ctx, *cfg.FfmpegPath)
	ffwrap.SetBinaryLocations(ffmpeg, *cfg.FfprobePath)
	ffwrap.SetGracePeriod(*cfg.GracePeriod)
	command.SetAcceleration(ffwrap.DetectCUDA(ctx))
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the smelt version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("smelt %s\n", version)
		},
	}
}

// --- service mode ---

var svcConfig = &service.Config{
	Name:        "smelt",
	DisplayName: "Smelt media conversion service",
	Description: "Queued ffmpeg conversions with an HTTP API on localhost.",
	Arguments:   []string{"serve"},
}

// program adapts the queue service to the service manager lifecycle.
type program struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		if err := serveQueue(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("service exited: %v", err)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.cancel()
	select {
	case <-p.done:
	case <-time.After(30 * time.Second):
		logger.Error("service did not stop within 30s")
	}
	return nil
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the conversion queue and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := service.New(&program{}, svcConfig)
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			return s.Run()
		},
	}
}

func serviceCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "service [install|uninstall|start|stop|restart]",
		Short:     "control the system service registration",
		Args:      cobra.ExactArgs(1),
		ValidArgs: service.ControlAction[:],
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := service.New(&program{}, svcConfig)
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			if err := service.Control(s, args[0]); err != nil {
				return fmt.Errorf("service %s: %w", args[0], err)
			}
			fmt.Printf("service %s: ok\n", args[0])
			return nil
		},
	}
}

// serveQueue runs the queue worker, the websocket hub and the HTTP API
// until ctx is cancelled.
func serveQueue(ctx context.Context) error {
	setupBinaries(ctx)

	if err := initdb(*cfg.DBPath); err != nil {
		return err
	}
	defer db.Close()

	wsHub = newHub()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.run(ctx)
		return nil
	})
	g.Go(func() error {
		return runQueue(ctx, cfg)
	})

	srv := &http.Server{Addr: *cfg.ListenAddr, Handler: routes()}
	g.Go(func() error {
		logger.Infof("smelt %s listening on %s", version, *cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// --- one shot mode ---

func combineCommand() *cobra.Command {
	var paths struct {
		left, right, center, lfe, ls, rs string
	}
	var output string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "combine",
		Short: "merge per channel wav files into one multichannel wav",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := command.Request{
				Operation: command.CombineAudio,
				Channels: []command.ChannelInput{
					{Role: command.RoleLeft, Path: paths.left},
					{Role: command.RoleRight, Path: paths.right},
					{Role: command.RoleCenter, Path: paths.center},
					{Role: command.RoleLFE, Path: paths.lfe},
					{Role: command.RoleLeftSurround, Path: paths.ls},
					{Role: command.RoleRightSurround, Path: paths.rs},
				},
				Output:    output,
				Overwrite: overwrite,
			}
			return oneShot(r)
		},
	}
	cmd.Flags().StringVar(&paths.left, "left", "", "left channel wav")
	cmd.Flags().StringVar(&paths.right, "right", "", "right channel wav")
	cmd.Flags().StringVar(&paths.center, "center", "", "center channel wav")
	cmd.Flags().StringVar(&paths.lfe, "lfe", "", "LFE channel wav")
	cmd.Flags().StringVar(&paths.ls, "left-surround", "", "left surround channel wav")
	cmd.Flags().StringVar(&paths.rs, "right-surround", "", "right surround channel wav")
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination .wav path")
	cmd.Flags().BoolVarP(&overwrite, "overwrite", "y", false, "overwrite the destination if it exists")
	cmd.MarkFlagRequired("output")
	return cmd
}

func convertCommand() *cobra.Command {
	var input, output, target, framerate string
	var startNumber int
	var hwaccel, overwrite bool

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "convert a video or audio file to a target format",
		Long: fmt.Sprintf("convert a video or audio file to a target format\n\nvideo targets: %v\naudio targets: %v",
			command.Targets(command.ConvertVideo), command.Targets(command.ConvertAudio)),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, ok := command.OperationForTarget(command.Target(target))
			if !ok {
				return fmt.Errorf("unknown target %q", target)
			}
			r := command.Request{
				Operation: op,
				Source:    input,
				Output:    output,
				Target:    command.Target(target),
				HWAccel:   hwaccel,
				Overwrite: overwrite,
			}
			if framerate != "" {
				r.Sequence = &command.Sequence{FrameRate: framerate, StartNumber: startNumber}
			}
			return oneShot(r)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "source file or image sequence pattern")
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination path")
	cmd.Flags().StringVarP(&target, "target", "t", string(command.TargetH264MP4), "output format")
	cmd.Flags().StringVar(&framerate, "framerate", "", "treat input as an image sequence at this frame rate")
	cmd.Flags().IntVar(&startNumber, "start-number", 0, "first frame number of the image sequence")
	cmd.Flags().BoolVar(&hwaccel, "hwaccel", false, "use hardware accelerated decoding when available")
	cmd.Flags().BoolVarP(&overwrite, "overwrite", "y", false, "overwrite the destination if it exists")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")
	return cmd
}

// oneShot builds and runs a single request in the foreground. Ctrl-C
// cancels the run and lets ffmpeg finalize before the kill.
func oneShot(r command.Request) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	setupBinaries(ctx)

	argv, err := command.Build(r)
	if err != nil {
		return err
	}
	cmdline := shellquote.Join(append([]string{ffwrap.FfmpegBinary()}, argv...)...)
	logger.Infof("running: %s", cmdline)
	if verbose {
		fmt.Println(cmdline)
	}

	var total time.Duration
	if r.Source != "" && r.Sequence == nil {
		if d, err := ffwrap.ProbeDuration(ctx, r.Source); err == nil {
			total = d
		}
	}
	tracker := ffwrap.NewTracker(total)

	outcome := ffwrap.Run(ctx, argv, func(line string) {
		if pct, ok := tracker.Observe(line); ok {
			fmt.Printf("\r%3.0f%%", pct)
		}
	})
	fmt.Println()

	switch outcome.State {
	case ffwrap.Succeeded:
		fmt.Printf("wrote %s\n", r.Output)
		return nil
	case ffwrap.Cancelled:
		return errors.New("cancelled")
	case ffwrap.SpawnFailed:
		return fmt.Errorf("could not start ffmpeg: %v", outcome.Err)
	default:
		return fmt.Errorf("ffmpeg exited with code %d:\n%s", outcome.ExitCode, outcome.StderrTail)
	}
}
