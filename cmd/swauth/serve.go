package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/AppsFlyer/go-sundheit/checks"
	gosundheithttp "github.com/AppsFlyer/go-sundheit/http"
	"github.com/ghodss/yaml"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/swauth/swauth/admingate"
	"github.com/swauth/swauth/backing"
	"github.com/swauth/swauth/cache"
	"github.com/swauth/swauth/creds"
	"github.com/swauth/swauth/identity"
	"github.com/swauth/swauth/middleware"
	"github.com/swauth/swauth/pkg/log"
	"github.com/swauth/swauth/pkg/metrics"
	"github.com/swauth/swauth/remote"
	"github.com/swauth/swauth/s3compat"
	"github.com/swauth/swauth/server"
	"github.com/swauth/swauth/token"
)

type serveOptions struct {
	config string

	webHTTPAddr   string
	webHTTPSAddr  string
	telemetryAddr string
}

func commandServe() *cobra.Command {
	options := serveOptions{}

	cmd := &cobra.Command{
		Use:     "serve [flags] [config file]",
		Short:   "Launch swauth",
		Example: "swauth serve config.yaml",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			options.config = args[0]
			return runServe(options)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&options.webHTTPAddr, "web-http-addr", "", "Web HTTP address")
	flags.StringVar(&options.webHTTPSAddr, "web-https-addr", "", "Web HTTPS address")
	flags.StringVar(&options.telemetryAddr, "telemetry-addr", "", "Telemetry address")

	return cmd
}

func applyConfigOverrides(options serveOptions, config *Config) {
	if options.webHTTPAddr != "" {
		config.Web.HTTP = options.webHTTPAddr
	}
	if options.webHTTPSAddr != "" {
		config.Web.HTTPS = options.webHTTPSAddr
	}
	if options.telemetryAddr != "" {
		config.Telemetry.HTTP = options.telemetryAddr
	}
}

type serverRunner struct {
	name string
	srv  *http.Server

	tlsCrt string
	tlsKey string

	logger log.Logger
}

func newServerRunner(name string, srv *http.Server, logger log.Logger) *serverRunner {
	return &serverRunner{name: name, srv: srv, logger: logger}
}

func (s *serverRunner) WithTLS(crt, key string) *serverRunner {
	s.tlsCrt = crt
	s.tlsKey = key
	return s
}

func (s *serverRunner) run(listener net.Listener) error {
	if s.tlsCrt != "" && s.tlsKey != "" {
		return s.srv.ServeTLS(listener, s.tlsCrt, s.tlsKey)
	}
	return s.srv.Serve(listener)
}

func (s *serverRunner) RunAndShutdownGracefully(gr *run.Group) error {
	listener, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening (%s) on %s: %v", s.name, s.srv.Addr, err)
	}

	gr.Add(func() error {
		s.logger.Infof("listening (%s) on %s", s.name, s.srv.Addr)
		return s.run(listener)
	}, func(err error) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		s.logger.Debugf("starting graceful shutdown (%s)", s.name)
		if err := s.srv.Shutdown(ctx); err != nil {
			s.logger.Errorf("graceful shutdown (%s): %v", s.name, err)
		}
	})
	return nil
}

var (
	logLevels  = []string{"debug", "info", "error"}
	logFormats = []string{"json", "text"}
)

type utcFormatter struct {
	f logrus.Formatter
}

func (f *utcFormatter) Format(e *logrus.Entry) ([]byte, error) {
	e.Time = e.Time.UTC()
	return f.f.Format(e)
}

func newLogger(level, format string) (log.Logger, error) {
	var logLevel logrus.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = logrus.DebugLevel
	case "", "info":
		logLevel = logrus.InfoLevel
	case "error":
		logLevel = logrus.ErrorLevel
	default:
		return nil, fmt.Errorf("log level is not one of the supported values (%s): %s", strings.Join(logLevels, ", "), level)
	}

	var formatter utcFormatter
	switch strings.ToLower(format) {
	case "", "text":
		formatter.f = &logrus.TextFormatter{DisableColors: true}
	case "json":
		formatter.f = &logrus.JSONFormatter{}
	default:
		return nil, fmt.Errorf("log format is not one of the supported values (%s): %s", strings.Join(logFormats, ", "), format)
	}

	return log.NewLogrusLogger(&logrus.Logger{
		Out:       os.Stderr,
		Formatter: &formatter,
		Level:     logLevel,
	}), nil
}

func parseDurationOrDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

// buildStorageProxy builds the downstream handler Classifier forwards
// authorized requests to. Proxying to the backing storage cluster itself is
// an external collaborator (spec section 1); this reverse proxy is only
// this binary's choice of host for a standalone, runnable swauth, not a
// reimplementation of the storage service.
func buildStorageProxy(target string) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parsing default_swift_cluster public url: %w", err)
	}
	return httputil.NewSingleHostReverseProxy(u), nil
}

func runServe(options serveOptions) error {
	configData, err := os.ReadFile(options.config)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %v", options.config, err)
	}

	var c Config
	if err := yaml.Unmarshal(configData, &c); err != nil {
		return fmt.Errorf("error parse config file %s: %v", options.config, err)
	}
	applyConfigOverrides(options, &c)

	logger, err := newLogger(c.Logger.Level, c.Logger.Format)
	if err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}

	cluster, err := parseSwiftCluster(c.DefaultSwiftCluster)
	if err != nil {
		return err
	}
	logger.Infof("config default swift cluster: %s", cluster.name)

	nodeTimeout, err := parseDurationOrDefault(c.NodeTimeout, 10*time.Second)
	if err != nil {
		return fmt.Errorf("invalid config value %q for node_timeout: %v", c.NodeTimeout, err)
	}
	tokenLife, err := parseDurationOrDefault(c.TokenLife, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("invalid config value %q for token_life: %v", c.TokenLife, err)
	}
	maxTokenLife, err := parseDurationOrDefault(c.MaxTokenLife, tokenLife)
	if err != nil {
		return fmt.Errorf("invalid config value %q for max_token_life: %v", c.MaxTokenLife, err)
	}

	codec, err := codecFor(c)
	if err != nil {
		return err
	}
	if c.S3Support {
		if err := creds.CheckS3Compatible(codec); err != nil {
			return err
		}
	}

	resellerPrefix := backing.NormalizePrefix(c.ResellerPrefix)
	if c.ResellerPrefix == "" {
		resellerPrefix = backing.NormalizePrefix("AUTH")
	}
	logger.Infof("config reseller prefix: %s", resellerPrefix)

	prometheusRegistry := prometheus.NewRegistry()
	m, err := metrics.New(prometheusRegistry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %v", err)
	}

	sharedCache := cache.NewMemCache(5 * time.Minute)
	tokenCache := cache.NewTokenCache(sharedCache)

	backingDoer := backing.NewExternalDoer(nodeTimeout)
	backingClient := &backing.Client{Doer: backingDoer, Metrics: m}

	idStore := &identity.Store{
		Auth:             backingClient,
		Cluster:          backingClient,
		Internal:         backing.NewInternalTokenManager(resellerPrefix, tokenLife, tokenCache),
		Prefix:           resellerPrefix,
		ClusterName:      cluster.name,
		ClusterPublicURL: cluster.publicURL,
		Logger:           logger,
	}
	if err := idStore.Prep(context.Background()); err != nil {
		return fmt.Errorf("preparing auth account: %v", err)
	}

	tokens := &token.Store{
		Backing:     backingClient,
		Cache:       tokenCache,
		Prefix:      resellerPrefix,
		HashPrefix:  os.Getenv("HASH_PATH_PREFIX"),
		HashSuffix:  os.Getenv("HASH_PATH_SUFFIX"),
		DefaultLife: tokenLife,
		MaxLife:     maxTokenLife,
		Logger:      logger,
		Metrics:     m,
	}

	gate := &admingate.Gate{Identity: idStore, SuperAdminKey: c.SuperAdminKey}

	var tokenValidator token.Validator = tokens
	adminAPIEnabled := c.SuperAdminKey != "" && c.SwauthRemote == ""
	s3Support := c.S3Support && c.SwauthRemote == ""

	if c.SwauthRemote != "" {
		remoteTimeout, err := parseDurationOrDefault(c.SwauthRemoteTimeout, nodeTimeout)
		if err != nil {
			return fmt.Errorf("invalid config value %q for swauth_remote_timeout: %v", c.SwauthRemoteTimeout, err)
		}
		logger.Infof("config delegating token validation to: %s", c.SwauthRemote)
		tokenValidator = remote.New(c.SwauthRemote, c.SuperAdminKey, remoteTimeout)
	}

	var s3Adapter *s3compat.Adapter
	if s3Support {
		s3Adapter = &s3compat.Adapter{Identity: idStore, Cache: sharedCache, CacheTTL: time.Minute}
		logger.Infof("config S3 compatibility enabled")
	}

	storageProxy, err := buildStorageProxy(cluster.publicURL)
	if err != nil {
		return err
	}

	classifier := &middleware.Classifier{
		Tokens:           tokenValidator,
		S3:               s3Adapter,
		ResellerPrefix:   resellerPrefix,
		S3Support:        s3Support,
		AllowOverrides:   c.AllowOverrides,
		TrustedSyncHosts: c.AllowedSyncHosts,
		Logger:           logger,
		Next:             storageProxy,
	}

	srv := server.New(server.Config{
		Identity:        idStore,
		Tokens:          tokens,
		Gate:            gate,
		Classifier:      classifier,
		ResellerPrefix:  resellerPrefix,
		AuthPrefix:      c.AuthPrefix,
		AdminAPIEnabled: adminAPIEnabled,
		AllowedOrigins:  c.Web.AllowedOrigins,
		AllowedHeaders:  c.Web.AllowedHeaders,
		Codec:           codec,
		Logger:          logger,
		Metrics:         m,
	})

	healthChecker := gosundheit.New()
	healthChecker.RegisterCheck(&gosundheit.Config{
		Check: &checks.CustomCheck{
			CheckName: "backing-store",
			CheckFunc: func(ctx context.Context) (interface{}, error) {
				_, err := idStore.Auth.Head(ctx, "/"+backing.AuthAccount(resellerPrefix), nil)
				return nil, err
			},
		},
		ExecutionPeriod:  15 * time.Second,
		InitiallyPassing: true,
	})

	telemetryRouter := http.NewServeMux()
	telemetryRouter.Handle("/metrics", promhttp.HandlerFor(prometheusRegistry, promhttp.HandlerOpts{}))
	healthHandler := gosundheithttp.HandleHealthJSON(healthChecker)
	telemetryRouter.Handle("/healthz", healthHandler)
	telemetryRouter.HandleFunc("/healthz/live", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	telemetryRouter.Handle("/healthz/ready", healthHandler)

	var gr run.Group
	if c.Telemetry.HTTP != "" {
		telemetrySrv := &http.Server{Addr: c.Telemetry.HTTP, Handler: telemetryRouter}
		defer telemetrySrv.Close()
		if err := newServerRunner("http/telemetry", telemetrySrv, logger).RunAndShutdownGracefully(&gr); err != nil {
			return err
		}
	}

	if c.Web.HTTP != "" {
		httpSrv := &http.Server{Addr: c.Web.HTTP, Handler: srv}
		defer httpSrv.Close()
		if err := newServerRunner("http", httpSrv, logger).RunAndShutdownGracefully(&gr); err != nil {
			return err
		}
	}

	if c.Web.HTTPS != "" {
		httpsSrv := &http.Server{
			Addr:    c.Web.HTTPS,
			Handler: srv,
			TLSConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		}
		defer httpsSrv.Close()
		runner := newServerRunner("https", httpsSrv, logger).WithTLS(c.Web.TLSCert, c.Web.TLSKey)
		if err := runner.RunAndShutdownGracefully(&gr); err != nil {
			return err
		}
	}

	gr.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))
	if err := gr.Run(); err != nil {
		if _, ok := err.(run.SignalError); !ok {
			return fmt.Errorf("run groups: %w", err)
		}
		logger.Infof("%v, shutdown now", err)
	}
	return nil
}
