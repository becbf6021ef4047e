package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/mrz1836/storyloom/internal/config"
	"github.com/mrz1836/storyloom/internal/logging"
	"github.com/mrz1836/storyloom/internal/signal"
	"github.com/mrz1836/storyloom/internal/transport/natsbus"
)

const (
	// serveDrainTimeout bounds the graceful drain after SIGTERM.
	serveDrainTimeout = 2 * time.Minute

	metricsReadHeaderTimeout = 5 * time.Second
	natsClientName           = "storyloom"
)

// ServeFlags holds flags specific to the serve command.
type ServeFlags struct {
	// MetricsAddr is the listen address of the /metrics endpoint. Empty disables it.
	MetricsAddr string
	// NATSURL overrides events.nats_url.
	NATSURL string
}

// AddServeCommand adds the serve command to the root command.
func AddServeCommand(root *cobra.Command) {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session registry as a long-lived server",
		Long: `Run the session registry, accepting control commands over NATS and
publishing every session event back to NATS.

Subjects:
  <prefix>.control.<command>              start, pause, resume, stop,
                                          approve_task, feedback, skip_task
  <prefix>.events.<session-id>.<event>    outbound session events

On SIGINT/SIGTERM the server stops accepting commands, lets every session
finish its current task and exits. A second signal abandons the drain.

Examples:
  storyloom serve --nats-url nats://127.0.0.1:4222
  storyloom serve --nats-url nats://bus:4222 --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().StringVar(&flags.NATSURL, "nats-url", "", "NATS server URL (overrides events.nats_url)")

	root.AddCommand(cmd)
}

func runServe(ctx context.Context, w io.Writer, flags *ServeFlags) error {
	logger := GetLogger()

	overrides := &config.Config{}
	overrides.Events.NATSURL = flags.NATSURL
	cfg, err := config.LoadWithOverrides(ctx, overrides)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	handler := signal.NewHandler(ctx)
	defer handler.Stop()

	var (
		nc   *nats.Conn
		opts []runtimeOption
	)
	if cfg.Events.NATSURL != "" {
		logger.Info().Str("url", logging.SafeValue("url", cfg.Events.NATSURL)).Msg("connecting to nats")
		nc, err = natsbus.Connect(cfg.Events.NATSURL, natsClientName, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		opts = append(opts, withPublisher(natsbus.NewPublisher(nc, cfg.Events.SubjectPrefix)))
	} else {
		logger.Warn().Msg("no nats url configured; control commands and events stay local")
	}

	rt, err := newRuntime(ctx, cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer rt.Close()

	return serve(handler.Context(), rt, serverOptions{
		metricsAddr: flags.MetricsAddr,
		nc:          nc,
		prefix:      cfg.Events.SubjectPrefix,
		interrupted: handler.Interrupted(),
		forced:      handler.Forced(),
		out:         w,
	})
}

// serverOptions are the moving parts of a serve run.
type serverOptions struct {
	metricsAddr string
	nc          *nats.Conn
	prefix      string
	interrupted <-chan struct{}
	forced      <-chan struct{}
	out         io.Writer
	drain       time.Duration
	// ready, if set, receives the bound metrics address.
	ready func(metricsAddr string)
}

// serve runs the registry until interrupted, then drains it.
func serve(ctx context.Context, rt *runtime, opts serverOptions) error {
	logger := rt.logger
	if opts.drain <= 0 {
		opts.drain = serveDrainTimeout
	}

	var listener *natsbus.Listener
	if opts.nc != nil {
		var err error
		listener, err = natsbus.Listen(context.WithoutCancel(ctx), opts.nc, opts.prefix, rt.registry, logger)
		if err != nil {
			return err
		}
	}

	var (
		srv     *http.Server
		srvErrs = make(chan error, 1)
	)
	if opts.metricsAddr != "" {
		ln, err := net.Listen("tcp", opts.metricsAddr)
		if err != nil {
			if listener != nil {
				_ = listener.Close()
			}
			return fmt.Errorf("failed to listen on %s: %w", opts.metricsAddr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", rt.metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, "ok\n")
		})
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: metricsReadHeaderTimeout}
		go func() {
			if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				srvErrs <- err
			}
		}()
		logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
		if opts.ready != nil {
			opts.ready(ln.Addr().String())
		}
	} else if opts.ready != nil {
		opts.ready("")
	}

	sweepCtx, stopSweeper := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSweeper()
	go rt.registry.RunSweeper(sweepCtx)

	if opts.out != nil {
		_, _ = fmt.Fprintln(opts.out, "storyloom server ready; press Ctrl+C to stop")
	}

	var serveErr error
	select {
	case <-opts.interrupted:
		logger.Info().Int("sessions", rt.registry.Len()).Msg("shutting down, draining sessions")
	case <-ctx.Done():
		logger.Info().Msg("context canceled, draining sessions")
	case serveErr = <-srvErrs:
		logger.Error().Err(serveErr).Msg("metrics server failed")
	}

	if listener != nil {
		if err := listener.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing control listener")
		}
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), opts.drain)
	defer cancelDrain()
	go func() {
		select {
		case <-opts.forced:
			logger.Warn().Msg("second signal, abandoning in-flight tasks")
			cancelDrain()
		case <-drainCtx.Done():
		}
	}()
	drainErr := rt.registry.Shutdown(drainCtx)
	stopSweeper()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsReadHeaderTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("stopping metrics server")
		}
		cancel()
	}
	if opts.nc != nil {
		if err := opts.nc.Flush(); err != nil {
			logger.Debug().Err(err).Msg("flushing nats")
		}
	}

	if serveErr != nil {
		return serveErr
	}
	return drainErr
}
