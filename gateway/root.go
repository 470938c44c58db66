// Package gateway wires the mediagate commands: the media gateway server, the
// storage signing proxy and offline URL inspection.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/famgallery/mediagate/configuration"
	dcontext "github.com/famgallery/mediagate/context"
	"github.com/famgallery/mediagate/gateway/handlers"
	"github.com/famgallery/mediagate/gateway/storageproxy"
	"github.com/famgallery/mediagate/log"
	"github.com/famgallery/mediagate/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gitlab.com/gitlab-org/labkit/errortracking"
	"golang.org/x/sync/errgroup"
)

// configurationPathEnv names the configuration file when no argument is given.
const configurationPathEnv = "MEDIAGATE_CONFIGURATION_PATH"

const readHeaderTimeout = 10 * time.Second

func init() {
	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(StorageProxyCmd)
	RootCmd.AddCommand(InspectCmd)
	RootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")

	InspectCmd.Flags().StringVarP(&format, "format", "f", formatText, "which format to write output to, options: text, json, csv, yaml")
	InspectCmd.Flags().BoolVarP(&download, "download", "d", false, "inspect the URLs as download requests")
}

// Command flag vars
var (
	showVersion bool
	format      string
	download    bool
)

// RootCmd is the main command for the 'mediagate' binary.
var RootCmd = &cobra.Command{
	Use:   "mediagate",
	Short: "`mediagate` serves family gallery media at the edge",
	Long:  "`mediagate` authenticates gallery sessions, caches media responses and fetches misses from the image transform service or raw storage.",
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			version.PrintVersion()
			return
		}
		_ = cmd.Usage()
	},
}

// ServeCmd is the cobra command that runs the media gateway.
var ServeCmd = &cobra.Command{
	Use:   "serve <config>",
	Short: "`serve` runs the media gateway",
	Long:  "`serve` runs the media gateway, serving GET and HEAD /images/{key} for authenticated sessions.",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			_ = cmd.Usage()
			os.Exit(1)
		}

		ctx, err := configureLogging(dcontext.Background(), config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unable to configure logging with config: %s\n", err)
			os.Exit(1)
		}
		configureErrorTracking(ctx, config)

		app, err := handlers.NewApp(ctx, config)
		if err != nil {
			log.GetLogger(log.WithContext(ctx)).WithError(err).Fatal("failed to create media gateway")
		}

		if err := serve(ctx, config, config.HTTP.Addr, app, app.Shutdown); err != nil {
			log.GetLogger(log.WithContext(ctx)).WithError(err).Fatal("media gateway stopped")
		}
	},
}

// StorageProxyCmd is the cobra command that runs the storage signing proxy.
var StorageProxyCmd = &cobra.Command{
	Use:   "storage-proxy <config>",
	Short: "`storage-proxy` runs the S3 signing proxy used as raw storage origin",
	Long:  "`storage-proxy` serves bucket objects over GET and HEAD, signing upstream requests with AWS Signature Version 4.",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := resolveConfiguration(args,
			configuration.WithoutGatewayValidation(),
			configuration.WithStorageProxyValidation(),
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			_ = cmd.Usage()
			os.Exit(1)
		}

		ctx, err := configureLogging(dcontext.Background(), config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unable to configure logging with config: %s\n", err)
			os.Exit(1)
		}
		configureErrorTracking(ctx, config)

		proxy, err := storageproxy.New(config.StorageProxy)
		if err != nil {
			log.GetLogger(log.WithContext(ctx)).WithError(err).Fatal("failed to create storage proxy")
		}

		if err := serve(ctx, config, config.StorageProxy.Addr, proxy, nil); err != nil {
			log.GetLogger(log.WithContext(ctx)).WithError(err).Fatal("storage proxy stopped")
		}
	},
}

// InspectCmd is the cobra command that explains how media URLs are handled.
var InspectCmd = &cobra.Command{
	Use:   "inspect <url>...",
	Short: "Inspect media URLs",
	Long:  "Inspect media URLs, printing the decoded object key, media kind, canonical cache key and selected origin, or the validation error a request would get.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rows := make([]inspection, 0, len(args))
		for _, arg := range args {
			rows = append(rows, inspectURL(arg, download))
		}

		if err := writeInspections(os.Stdout, format, rows); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	},
}

// resolveConfiguration reads the configuration file named by the first
// argument, or by MEDIAGATE_CONFIGURATION_PATH when there is none.
func resolveConfiguration(args []string, opts ...configuration.ParseOption) (*configuration.Configuration, error) {
	var configurationPath string

	if len(args) > 0 {
		configurationPath = args[0]
	} else if p := os.Getenv(configurationPathEnv); p != "" {
		configurationPath = p
	}

	if configurationPath == "" {
		return nil, errors.New("configuration path unspecified")
	}

	fp, err := os.Open(configurationPath)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	config, err := configuration.Parse(fp, opts...)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", configurationPath, err)
	}

	return config, nil
}

// configureLogging prepares the standard logger and returns a context whose
// logger carries the configured static fields.
func configureLogging(ctx context.Context, config *configuration.Configuration) (context.Context, error) {
	if err := log.Configure(os.Stdout, config.Log.Level, config.Log.Formatter); err != nil {
		return ctx, err
	}

	fields := log.Fields{"version": version.Version}
	for k, v := range config.Log.Fields {
		fields[k] = v
	}
	ctx = log.WithLogger(ctx, log.GetLogger(log.WithContext(ctx)).WithFields(fields))

	return ctx, nil
}

func configureErrorTracking(ctx context.Context, config *configuration.Configuration) {
	if config.ErrorTracking.SentryDSN == "" {
		return
	}

	err := errortracking.Initialize(
		errortracking.WithSentryDSN(config.ErrorTracking.SentryDSN),
		errortracking.WithSentryEnvironment(config.ErrorTracking.Environment),
		errortracking.WithVersion(version.Version),
	)
	if err != nil {
		log.GetLogger(log.WithContext(ctx)).WithError(err).Error("failed to initialize error tracking")
		return
	}
	log.GetLogger(log.WithContext(ctx)).Info("error tracking enabled")
}

// serve runs handler on addr, plus the debug server when configured, until
// SIGINT or SIGTERM. Servers then get http.shutdowntimeout to drain, shared
// with onShutdown.
func serve(ctx context.Context, config *configuration.Configuration, addr string, handler http.Handler, onShutdown func(context.Context) error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := log.GetLogger(log.WithContext(ctx))

	servers := []*http.Server{newServer(ctx, addr, handler)}
	if config.HTTP.Debug.Addr != "" {
		servers = append(servers, newServer(ctx, config.HTTP.Debug.Addr, debugHandler()))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			l.WithFields(log.Fields{"address": srv.Addr}).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		l.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutting down %s: %w", srv.Addr, err))
			}
		}
		if onShutdown != nil {
			if err := onShutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func newServer(ctx context.Context, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}
}

func debugHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}
