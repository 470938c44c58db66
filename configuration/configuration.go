// Package configuration loads the gateway settings from a YAML document, with
// every key overridable through MEDIAGATE_* environment variables.
package configuration

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding configuration keys.
const EnvPrefix = "MEDIAGATE"

// Supported cache types.
const (
	CacheTypeMemory = "memory"
	CacheTypeRedis  = "redis"
	CacheTypeNone   = "none"
)

// Configuration is the root of the gateway settings.
type Configuration struct {
	Log           Log           `mapstructure:"log"`
	HTTP          HTTP          `mapstructure:"http"`
	Auth          Auth          `mapstructure:"auth"`
	Origin        Origin        `mapstructure:"origin"`
	Cache         Cache         `mapstructure:"cache"`
	ErrorTracking ErrorTracking `mapstructure:"errortracking"`
	StorageProxy  StorageProxy  `mapstructure:"storageproxy"`
}

// Log configures the standard logger.
type Log struct {
	Level     string         `mapstructure:"level"`
	Formatter string         `mapstructure:"formatter"`
	Fields    map[string]any `mapstructure:"fields"`
}

// HTTP configures the public listener of the gateway.
type HTTP struct {
	Addr string `mapstructure:"addr"`
	// Host is the public host name used to build cache keys. Required unless
	// caching is disabled, in which case the request Host header is used.
	Host            string        `mapstructure:"host"`
	ShutdownTimeout time.Duration `mapstructure:"shutdowntimeout"`
	CORS            CORS          `mapstructure:"cors"`
	Debug           Debug         `mapstructure:"debug"`
}

// CORS lists the browser origins allowed to read gateway responses.
type CORS struct {
	AllowedOrigins []string `mapstructure:"allowedorigins"`
}

// Debug configures the listener serving metrics and pprof.
type Debug struct {
	Addr string `mapstructure:"addr"`
}

// Auth holds the Auth.js session secrets and the email allow-list.
type Auth struct {
	Secret string `mapstructure:"secret"`
	Salt   string `mapstructure:"salt"`
	// AllowEmails is the raw comma-separated allow-list.
	AllowEmails string `mapstructure:"allowemails"`
}

// Origin groups the two upstream services.
type Origin struct {
	Transform Transform `mapstructure:"transform"`
	Storage   Storage   `mapstructure:"storage"`
}

// Transform configures the image transform service.
type Transform struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// CredentialsFile points to a Google service account key used to mint ID
	// tokens for the transform service. Requests are unauthenticated when empty.
	CredentialsFile string `mapstructure:"credentialsfile"`
	// RateLimit caps transform requests per second. Zero disables the limit.
	RateLimit float64 `mapstructure:"ratelimit"`
	Burst     int     `mapstructure:"burst"`
}

// Storage configures the raw-storage proxy client.
type Storage struct {
	URL                string `mapstructure:"url"`
	RangeAttempts      int    `mapstructure:"rangeattempts"`
	AccessClientID     string `mapstructure:"accessclientid"`
	AccessClientSecret string `mapstructure:"accessclientsecret"`
}

// Cache configures the edge cache.
type Cache struct {
	Type          string      `mapstructure:"type"`
	MaxEntryBytes int64       `mapstructure:"maxentrybytes"`
	Memory        MemoryCache `mapstructure:"memory"`
	Redis         RedisCache  `mapstructure:"redis"`
	Writer        CacheWriter `mapstructure:"writer"`
}

// MemoryCache configures the in-process LRU cache.
type MemoryCache struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// RedisCache configures the shared Redis cache.
type RedisCache struct {
	Addr         string        `mapstructure:"addr"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	TTL          time.Duration `mapstructure:"ttl"`
	PoolSize     int           `mapstructure:"poolsize"`
	DialTimeout  time.Duration `mapstructure:"dialtimeout"`
	ReadTimeout  time.Duration `mapstructure:"readtimeout"`
	WriteTimeout time.Duration `mapstructure:"writetimeout"`
}

// CacheWriter configures the background cache writer.
type CacheWriter struct {
	QueueSize int           `mapstructure:"queuesize"`
	Workers   int           `mapstructure:"workers"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ErrorTracking configures Sentry reporting.
type ErrorTracking struct {
	SentryDSN   string `mapstructure:"sentrydsn"`
	Environment string `mapstructure:"environment"`
}

// StorageProxy configures the S3 signing proxy served by `mediagate storage-proxy`.
type StorageProxy struct {
	Addr            string `mapstructure:"addr"`
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"accesskeyid"`
	SecretAccessKey string `mapstructure:"secretaccesskey"`
	AllowListBucket bool   `mapstructure:"allowlistbucket"`
	RcloneDownload  bool   `mapstructure:"rclonedownload"`
	// AllowedHeaders restricts forwarded request headers. Empty forwards all signable headers.
	AllowedHeaders []string `mapstructure:"allowedheaders"`
	// AllowedHosts are the Referer hosts accepted, in addition to localhost.
	AllowedHosts  []string `mapstructure:"allowedhosts"`
	RangeAttempts int      `mapstructure:"rangeattempts"`
	// AccessClientID and AccessClientSecret form the service token the gateway
	// sends. Requests carrying it skip the Referer check.
	AccessClientID     string `mapstructure:"accessclientid"`
	AccessClientSecret string `mapstructure:"accessclientsecret"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.formatter", "text")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.host", "")
	v.SetDefault("http.shutdowntimeout", 30*time.Second)
	v.SetDefault("http.cors.allowedorigins", []string{})
	v.SetDefault("http.debug.addr", "")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.salt", "")
	v.SetDefault("auth.allowemails", "")

	v.SetDefault("origin.transform.url", "")
	v.SetDefault("origin.transform.timeout", 30*time.Second)
	v.SetDefault("origin.transform.credentialsfile", "")
	v.SetDefault("origin.transform.ratelimit", 0)
	v.SetDefault("origin.transform.burst", 1)
	v.SetDefault("origin.storage.url", "")
	v.SetDefault("origin.storage.rangeattempts", 3)
	v.SetDefault("origin.storage.accessclientid", "")
	v.SetDefault("origin.storage.accessclientsecret", "")

	v.SetDefault("cache.type", CacheTypeMemory)
	v.SetDefault("cache.maxentrybytes", 16<<20)
	v.SetDefault("cache.memory.size", 256)
	v.SetDefault("cache.memory.ttl", 0)
	v.SetDefault("cache.redis.addr", "")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.ttl", 24*time.Hour)
	v.SetDefault("cache.redis.poolsize", 10)
	v.SetDefault("cache.redis.dialtimeout", 2*time.Second)
	v.SetDefault("cache.redis.readtimeout", 2*time.Second)
	v.SetDefault("cache.redis.writetimeout", 5*time.Second)
	v.SetDefault("cache.writer.queuesize", 128)
	v.SetDefault("cache.writer.workers", 4)
	v.SetDefault("cache.writer.timeout", 10*time.Second)

	v.SetDefault("errortracking.sentrydsn", "")
	v.SetDefault("errortracking.environment", "")

	v.SetDefault("storageproxy.addr", ":8081")
	v.SetDefault("storageproxy.endpoint", "")
	v.SetDefault("storageproxy.bucket", "")
	v.SetDefault("storageproxy.region", "us-east-1")
	v.SetDefault("storageproxy.accesskeyid", "")
	v.SetDefault("storageproxy.secretaccesskey", "")
	v.SetDefault("storageproxy.allowlistbucket", false)
	v.SetDefault("storageproxy.rclonedownload", false)
	v.SetDefault("storageproxy.allowedheaders", []string{})
	v.SetDefault("storageproxy.allowedhosts", []string{})
	v.SetDefault("storageproxy.rangeattempts", 3)
	v.SetDefault("storageproxy.accessclientid", "")
	v.SetDefault("storageproxy.accessclientsecret", "")
}

type parseOptions struct {
	validateGateway      bool
	validateStorageProxy bool
}

// ParseOption alters the validation performed by Parse.
type ParseOption func(*parseOptions)

// WithoutGatewayValidation skips validation of the gateway sections. Used by
// commands that do not serve gateway traffic.
func WithoutGatewayValidation() ParseOption {
	return func(o *parseOptions) {
		o.validateGateway = false
	}
}

// WithStorageProxyValidation validates the storageproxy section.
func WithStorageProxyValidation() ParseOption {
	return func(o *parseOptions) {
		o.validateStorageProxy = true
	}
}

// Parse reads a YAML configuration document from rd, applies defaults and
// environment overrides, and validates the result.
func Parse(rd io.Reader, opts ...ParseOption) (*Configuration, error) {
	o := &parseOptions{validateGateway: true}
	for _, opt := range opts {
		opt(o)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(rd); err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	config := new(Configuration)
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(config, hook); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	var errs *multierror.Error
	if o.validateGateway {
		errs = multierror.Append(errs, config.validateGateway())
	}
	if o.validateStorageProxy {
		errs = multierror.Append(errs, config.StorageProxy.validate())
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Configuration) validateGateway() error {
	var errs *multierror.Error

	if strings.ContainsAny(c.HTTP.Host, "/:?#@ ") {
		errs = multierror.Append(errs, fmt.Errorf("http.host must be a bare host name: got %q", c.HTTP.Host))
	}
	if c.Auth.Secret == "" {
		errs = multierror.Append(errs, errors.New("auth.secret is required"))
	}
	if err := validateURL("origin.transform.url", c.Origin.Transform.URL); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := validateURL("origin.storage.url", c.Origin.Storage.URL); err != nil {
		errs = multierror.Append(errs, err)
	}
	if c.Origin.Transform.Timeout <= 0 {
		errs = multierror.Append(errs, errors.New("origin.transform.timeout must be positive"))
	}
	if c.Origin.Transform.RateLimit < 0 {
		errs = multierror.Append(errs, errors.New("origin.transform.ratelimit must not be negative"))
	}
	if c.Origin.Storage.RangeAttempts < 1 {
		errs = multierror.Append(errs, errors.New("origin.storage.rangeattempts must be at least 1"))
	}

	switch c.Cache.Type {
	case CacheTypeMemory:
		if c.Cache.Memory.Size < 1 {
			errs = multierror.Append(errs, errors.New("cache.memory.size must be at least 1"))
		}
	case CacheTypeRedis:
		if c.Cache.Redis.Addr == "" {
			errs = multierror.Append(errs, errors.New("cache.redis.addr is required when cache.type is redis"))
		}
	case CacheTypeNone:
	default:
		errs = multierror.Append(errs, fmt.Errorf("cache.type must be one of %s, %s, %s: got %q",
			CacheTypeMemory, CacheTypeRedis, CacheTypeNone, c.Cache.Type))
	}
	if c.Cache.Type != CacheTypeNone {
		// the request Host would otherwise become part of every cache key
		if c.HTTP.Host == "" {
			errs = multierror.Append(errs, errors.New("http.host is required unless cache.type is none"))
		}
		if c.Cache.Writer.Workers < 1 {
			errs = multierror.Append(errs, errors.New("cache.writer.workers must be at least 1"))
		}
		if c.Cache.Writer.QueueSize < 0 {
			errs = multierror.Append(errs, errors.New("cache.writer.queuesize must not be negative"))
		}
	}

	return errs.ErrorOrNil()
}

func (s StorageProxy) validate() error {
	var errs *multierror.Error

	if s.Endpoint == "" {
		errs = multierror.Append(errs, errors.New("storageproxy.endpoint is required"))
	}
	if s.Bucket == "" {
		errs = multierror.Append(errs, errors.New("storageproxy.bucket is required"))
	}
	if s.AccessKeyID == "" || s.SecretAccessKey == "" {
		errs = multierror.Append(errs, errors.New("storageproxy.accesskeyid and storageproxy.secretaccesskey are required"))
	}
	if s.RangeAttempts < 1 {
		errs = multierror.Append(errs, errors.New("storageproxy.rangeattempts must be at least 1"))
	}
	if (s.AccessClientID == "") != (s.AccessClientSecret == "") {
		errs = multierror.Append(errs, errors.New("storageproxy.accessclientid and storageproxy.accessclientsecret must be set together"))
	}

	return errs.ErrorOrNil()
}

func validateURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL: got %q", name, raw)
	}
	return nil
}
