// Package handlers serves the media endpoints: it authenticates requests,
// consults the edge cache and falls back to the origins on a miss.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/famgallery/mediagate/configuration"
	dcontext "github.com/famgallery/mediagate/context"
	"github.com/famgallery/mediagate/gateway/api/errcode"
	v1 "github.com/famgallery/mediagate/gateway/api/v1"
	"github.com/famgallery/mediagate/gateway/auth"
	"github.com/famgallery/mediagate/gateway/cache"
	"github.com/famgallery/mediagate/gateway/handlers/internal/metrics"
	redismetrics "github.com/famgallery/mediagate/gateway/internal/metrics/redis"
	"github.com/famgallery/mediagate/gateway/origin"
	"github.com/famgallery/mediagate/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gitlab.com/gitlab-org/labkit/correlation"
	"gitlab.com/gitlab-org/labkit/errortracking"
)

const redisPingTimeout = 5 * time.Second

// App is the media gateway application. It is an http.Handler.
type App struct {
	context.Context

	Config *configuration.Configuration

	router  *mux.Router
	handler http.Handler

	gate    *auth.Gate
	origins *origin.Router
	store   cache.Store
	writer  *cache.Writer

	redis redis.UniversalClient
}

// AppOption customizes the App built by NewApp.
type AppOption func(*appOptions)

type appOptions struct {
	store       cache.Store
	verifier    *auth.TokenVerifier
	transport   http.RoundTripper
	redisClient redis.UniversalClient
	registerer  prometheus.Registerer
}

// WithStore makes the App use s instead of the store described by the cache
// configuration.
func WithStore(s cache.Store) AppOption {
	return func(o *appOptions) {
		o.store = s
	}
}

// WithTokenVerifier overrides the session token verifier.
func WithTokenVerifier(v *auth.TokenVerifier) AppOption {
	return func(o *appOptions) {
		o.verifier = v
	}
}

// WithOriginTransport sets the base transport used to reach both origins.
func WithOriginTransport(rt http.RoundTripper) AppOption {
	return func(o *appOptions) {
		o.transport = rt
	}
}

// WithRedisClient makes a redis cache use client instead of dialing the
// configured address.
func WithRedisClient(client redis.UniversalClient) AppOption {
	return func(o *appOptions) {
		o.redisClient = client
	}
}

// WithMetricsRegisterer sets where the Redis client metrics are registered.
// Defaults to the prometheus default registerer.
func WithMetricsRegisterer(r prometheus.Registerer) AppOption {
	return func(o *appOptions) {
		o.registerer = r
	}
}

// NewApp takes a configuration and returns a configured app, ready to serve
// requests.
func NewApp(ctx context.Context, config *configuration.Configuration, opts ...AppOption) (*App, error) {
	o := &appOptions{
		transport:  http.DefaultTransport,
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(o)
	}

	app := &App{
		Context: ctx,
		Config:  config,
	}

	if err := app.configureCache(ctx, o); err != nil {
		return nil, err
	}

	if err := app.configureOrigins(ctx, o); err != nil {
		return nil, err
	}

	app.gate = auth.NewGate(config.Auth, o.verifier)

	app.router = mux.NewRouter().SkipClean(true).UseEncodedPath()
	app.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = errcode.ServeJSON(w, v1.ErrorCodeNotFound)
	})
	app.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", strings.Join([]string{http.MethodGet, http.MethodHead}, ", "))
		_ = errcode.ServeJSON(w, v1.ErrorCodeMethodNotAllowed)
	})

	app.router.Handle("/healthz", metrics.InstrumentHandler("healthz", http.HandlerFunc(healthz))).
		Methods(http.MethodGet, http.MethodHead)
	app.router.Handle("/images/{key:.+}", metrics.InstrumentHandler("media", app.gate.Handler(app.dispatcher(mediaDispatcher)))).
		Methods(http.MethodGet, http.MethodHead)

	app.handler = app.buildMiddleware(app.router)

	return app, nil
}

func (app *App) configureCache(ctx context.Context, o *appOptions) error {
	cc := app.Config.Cache
	store := o.store

	if store == nil {
		switch cc.Type {
		case configuration.CacheTypeMemory:
			store = cache.NewMemoryStore(cc.Memory.Size, cc.Memory.TTL)
		case configuration.CacheTypeRedis:
			client := o.redisClient
			if client == nil {
				client = redis.NewUniversalClient(&redis.UniversalOptions{
					Addrs:        []string{cc.Redis.Addr},
					Username:     cc.Redis.Username,
					Password:     cc.Redis.Password,
					DB:           cc.Redis.DB,
					PoolSize:     cc.Redis.PoolSize,
					DialTimeout:  cc.Redis.DialTimeout,
					ReadTimeout:  cc.Redis.ReadTimeout,
					WriteTimeout: cc.Redis.WriteTimeout,
				})
			}

			pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
			defer cancel()
			if err := client.Ping(pingCtx).Err(); err != nil {
				_ = client.Close()
				return fmt.Errorf("failed to connect to redis cache: %w", err)
			}

			if err := redismetrics.InstrumentClient(o.registerer, client,
				redismetrics.WithInstanceName("cache"),
				redismetrics.WithMaxConns(cc.Redis.PoolSize),
			); err != nil {
				log.GetLogger(log.WithContext(ctx)).WithError(err).Warn("failed to register redis cache metrics")
			}

			app.redis = client
			store = cache.NewRedisStore(client, cache.WithTTL(cc.Redis.TTL))
			log.GetLogger(log.WithContext(ctx)).WithFields(log.Fields{"addr": cc.Redis.Addr}).Info("using redis cache")
		case configuration.CacheTypeNone:
			app.store = cache.Instrument(cache.NoopStore{})
			log.GetLogger(log.WithContext(ctx)).Warn("edge cache is disabled")
			return nil
		default:
			return fmt.Errorf("unsupported cache type %q", cc.Type)
		}
	}

	app.store = cache.Instrument(store)
	app.writer = cache.NewWriter(app.store,
		cache.WithQueueSize(cc.Writer.QueueSize),
		cache.WithWorkers(cc.Writer.Workers),
		cache.WithWriteTimeout(cc.Writer.Timeout),
	)

	return nil
}

func (app *App) configureOrigins(ctx context.Context, o *appOptions) error {
	tc := app.Config.Origin.Transform
	transform, err := origin.NewTransformClient(ctx, tc.URL,
		origin.WithTransport(o.transport),
		origin.WithTimeout(tc.Timeout),
		origin.WithCredentialsFile(tc.CredentialsFile),
		origin.WithRateLimit(tc.RateLimit, tc.Burst),
	)
	if err != nil {
		return fmt.Errorf("configuring transform origin: %w", err)
	}

	sc := app.Config.Origin.Storage
	storage, err := origin.NewStorageClient(sc.URL,
		origin.WithStorageTransport(o.transport),
		origin.WithRangeAttempts(sc.RangeAttempts),
		origin.WithAccessCredentials(sc.AccessClientID, sc.AccessClientSecret),
	)
	if err != nil {
		return fmt.Errorf("configuring storage origin: %w", err)
	}

	app.origins = origin.NewRouter(transform, storage)
	return nil
}

// buildMiddleware wraps h with the handlers applied to every request, from
// the outermost: correlation IDs, request scoped logging, access logs, panic
// recovery and CORS.
func (app *App) buildMiddleware(h http.Handler) http.Handler {
	if origins := app.Config.HTTP.CORS.AllowedOrigins; len(origins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodHead}),
			handlers.AllowedHeaders([]string{"Range"}),
			handlers.ExposedHeaders([]string{"Content-Length", "Content-Range", "Accept-Ranges", "Content-Disposition", headerXCache}),
			handlers.AllowCredentials(),
		)(h)
	}

	h = recoverPanic(h)
	h = handlers.CustomLoggingHandler(io.Discard, h, logAccess)
	h = withRequestContext(h)
	return correlation.InjectCorrelationID(h, correlation.WithPropagation())
}

// ServeHTTP implements http.Handler.
func (app *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	app.handler.ServeHTTP(w, r)
}

// Shutdown waits for pending cache writes and releases the cache client.
func (app *App) Shutdown(ctx context.Context) error {
	var errs []error
	if app.writer != nil {
		if err := app.writer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing cache writes: %w", err))
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis client: %w", err))
		}
	}
	return errors.Join(errs...)
}

// requestURL rebuilds the absolute URL of r, which cache keys are derived
// from. With a configured public host the origin is always https://<host>,
// so clients cannot vary it through Host or X-Forwarded-Proto.
func (app *App) requestURL(r *http.Request) string {
	scheme, host := "https", app.Config.HTTP.Host
	if host == "" {
		host = r.Host
		if r.TLS == nil && !strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			scheme = "http"
		}
	}

	u := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	return u.String()
}

func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(dcontext.WithRequest(r.Context(), r)))
	})
}

func logAccess(_ io.Writer, params handlers.LogFormatterParams) {
	log.GetLogger(log.WithContext(params.Request.Context())).WithFields(log.Fields{
		"status":     params.StatusCode,
		"size":       params.Size,
		"duration_s": time.Since(params.TimeStamp).Seconds(),
	}).Info("request completed")
}

func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			err := fmt.Errorf("panic serving %s: %v", r.URL.Path, rec)
			log.GetLogger(log.WithContext(r.Context())).WithError(err).
				WithFields(log.Fields{"stack": string(debug.Stack())}).
				Error("recovered from panic")
			errortracking.Capture(err, errortracking.WithContext(r.Context()), errortracking.WithRequest(r))

			_ = errcode.ServeJSON(w, errcode.ErrorCodeUnknown)
		}()

		next.ServeHTTP(w, r)
	})
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte("{}"))
}
