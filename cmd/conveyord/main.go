package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fluxcd/conveyor/pkg/artifact"
	"github.com/fluxcd/conveyor/pkg/checkpoint"
	"github.com/fluxcd/conveyor/pkg/config"
	"github.com/fluxcd/conveyor/pkg/daemon"
	"github.com/fluxcd/conveyor/pkg/environment"
	"github.com/fluxcd/conveyor/pkg/environment/kubernetes"
	"github.com/fluxcd/conveyor/pkg/health"
	"github.com/fluxcd/conveyor/pkg/history"
	historysql "github.com/fluxcd/conveyor/pkg/history/sql"
	transport "github.com/fluxcd/conveyor/pkg/http"
	daemonhttp "github.com/fluxcd/conveyor/pkg/http/daemon"
	"github.com/fluxcd/conveyor/pkg/notify"
	"github.com/fluxcd/conveyor/pkg/pipeline"
	"github.com/fluxcd/conveyor/pkg/registry"
	"github.com/fluxcd/conveyor/pkg/registry/cache"
	"github.com/fluxcd/conveyor/pkg/registry/cache/memcached"
	"github.com/fluxcd/conveyor/pkg/registry/middleware"
)

var version = "unversioned"

const (
	product = "conveyor"

	memcacheUpdateInterval = time.Minute
	historyPingTimeout     = 30 * time.Second
	shutdownTimeout        = 30 * time.Second
)

func main() {
	// Flag domain.
	fs := pflag.NewFlagSet("default", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "DESCRIPTION\n")
		fmt.Fprintf(os.Stderr, "  conveyord builds, stages and deploys a fixed set of services.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		fs.PrintDefaults()
	}

	v := viper.New()
	defineConfigFlags(fs, v, func(err error) {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	})
	var (
		configFile  = fs.String("config", "", "path to a YAML config file; flags given on the command line take precedence over it")
		versionFlag = fs.Bool("version", false, "get version number")
	)

	err := fs.Parse(os.Args[1:])
	switch {
	case err == pflag.ErrHelp:
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %s\n\nRun 'conveyord --help' for usage.\n", err.Error())
		os.Exit(2)
	}

	if *versionFlag {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg, err := loadConfig(v, *configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	// Logger component.
	var logger log.Logger
	{
		switch cfg.LogFormat {
		case "json":
			logger = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
		case "fmt":
			logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
		default:
			logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
		}
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}
	logger.Log("version", version)

	pipelineDef, err := config.LoadPipeline(cfg.PipelineFile)
	if err != nil {
		logger.Log("err", err)
		os.Exit(1)
	}
	services := pipelineDef.ArtifactServices()
	routes := pipeline.DefaultRoutes
	for _, r := range []struct{ from, to *string }{
		{&pipelineDef.Branches.Integration, &routes.Integration},
		{&cfg.IntegrationBranch, &routes.Integration},
		{&pipelineDef.Branches.Main, &routes.Main},
		{&cfg.MainBranch, &routes.Main},
	} {
		if *r.from != "" {
			*r.to = *r.from
		}
	}
	logger.Log("services", len(services), "integration", routes.Integration, "main", routes.Main)

	// error channel; room for the signal and both listeners, so nothing
	// blocks once we stop receiving.
	errc := make(chan error, 3)

	// shutdown triggers
	shutdown := make(chan struct{})
	shutdownWg := &sync.WaitGroup{}

	// wait for SIGTERM
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx := context.Background()

	// Builder component.
	var builder artifact.Builder
	{
		logger := log.With(logger, "component", "builder")
		var logs artifact.LogStore
		switch {
		case cfg.LogS3Endpoint != "":
			store, err := artifact.NewMinioLogStore(ctx, artifact.MinioConfig{
				Endpoint:  cfg.LogS3Endpoint,
				AccessKey: cfg.LogS3AccessKey,
				SecretKey: cfg.LogS3SecretKey,
				Bucket:    cfg.LogS3Bucket,
				Region:    cfg.LogS3Region,
				UseSSL:    !cfg.LogS3Insecure,
			})
			if err != nil {
				logger.Log("err", err)
				os.Exit(1)
			}
			logs = store
			logger.Log("logs", "s3", "endpoint", cfg.LogS3Endpoint, "bucket", cfg.LogS3Bucket)
		case cfg.LogDir != "":
			logs = &artifact.DirLogStore{Dir: cfg.LogDir}
			logger.Log("logs", "dir", "dir", cfg.LogDir)
		default:
			logger.Log("logs", "none")
		}
		builder = artifact.NewSourceBuilder(logs, cfg.TestTimeout, logger)
	}

	// Registry component.
	var reg registry.Registry
	var stopCache func()
	{
		logger := log.With(logger, "component", "registry")
		limiters := &middleware.RateLimiters{
			RPS:    cfg.RegistryRPS,
			Burst:  cfg.RegistryBurst,
			Logger: logger,
		}
		remote := registry.NewRemote(registry.RemoteConfig{
			Host:     cfg.RegistryHost,
			Prefix:   cfg.RegistryPrefix,
			Username: cfg.RegistryUser,
			Password: cfg.RegistryPassword,
			Insecure: cfg.RegistryInsecure,
			Timeout:  cfg.RegistryTimeout,
		}, limiters, logger)
		logger.Log("host", cfg.RegistryHost, "prefix", cfg.RegistryPrefix)
		reg = remote

		var cacheClient cache.Client
		switch cfg.CacheBackend {
		case config.CacheMemcached:
			memcacheConfig := memcached.Config{
				Host:         cfg.MemcachedHostname,
				Service:      cfg.MemcachedService,
				Timeout:      cfg.MemcachedTimeout,
				MaxIdleConns: cfg.RegistryBurst,
				Refresh:      memcacheUpdateInterval,
				Logger:       log.With(logger, "component", "memcached"),
			}
			if cfg.MemcachedPort != 0 {
				memcacheConfig.Addresses = []string{fmt.Sprintf("%s:%d", cfg.MemcachedHostname, cfg.MemcachedPort)}
			}
			client := memcached.New(memcacheConfig)
			cacheClient, stopCache = client, client.Stop
		case config.CacheRedis:
			client := cache.NewRedisClient(cache.RedisConfig{
				Service:  cfg.RedisService,
				Port:     cfg.RedisPort,
				Password: cfg.RedisPassword,
				Timeout:  cfg.MemcachedTimeout,
				MaxConns: cfg.RegistryBurst,
				Logger:   log.With(logger, "component", "redis"),
			})
			if err := client.Ping(); err != nil {
				logger.Log("warning", "redis not reachable; artifacts will be looked up in the registry until it is", "err", err)
			}
			cacheClient, stopCache = client, client.Stop
		case config.CacheMemory, "":
			cacheClient = cache.NewMemoryClient()
		}
		if cacheClient != nil {
			reg = &cache.Registry{
				Next:       reg,
				Repository: cfg.RegistryHost + "/" + cfg.RegistryPrefix,
				Client:     cache.InstrumentClient(cacheClient),
				TTL:        cfg.CacheTTL,
				Logger:     log.With(logger, "component", "cache"),
			}
			logger.Log("cache", cfg.CacheBackend)
		}
		reg = registry.NewInstrumentedRegistry(reg)
	}

	// Environment component.
	var provisioner environment.Provisioner
	{
		logger := log.With(logger, "component", "environment")
		clientset, err := kubernetes.NewClientset(cfg.Kubeconfig)
		if err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}
		allowFrom, err := parseLabels(cfg.K8sAllowFrom)
		if err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}
		provisioner = environment.Instrument(kubernetes.NewProvisioner(clientset, kubernetes.Config{
			ClusterDomain: cfg.K8sClusterDomain,
			Replicas:      int32(cfg.K8sReplicas),
			DatabaseImage: cfg.K8sDatabaseImage,
			AllowFrom:     allowFrom,
		}, logger))
	}

	verifier := health.NewVerifier(health.HTTPChecker{
		Client: &http.Client{Timeout: cfg.HealthTimeout},
	}, cfg.HealthInterval, cfg.HealthSuccesses, log.With(logger, "component", "health"))

	// History component.
	var events history.EventReadWriter
	{
		logger := log.With(logger, "component", "history")
		if cfg.HistoryURL != "" {
			db, err := historysql.NewSQL(ctx, cfg.HistoryURL, historyPingTimeout, logger)
			if err != nil {
				logger.Log("err", err)
				os.Exit(1)
			}
			defer db.Close()
			events = db
			logger.Log("store", "sql")
		} else {
			events = history.NewInMem(cfg.HistorySize)
			logger.Log("store", "memory", "size", cfg.HistorySize)
		}
		events = history.Instrument(events)
	}

	// Notifications component.
	var notifier notify.Notifier
	{
		logger := log.With(logger, "component", "notify")
		var notifiers []notify.Notifier
		if cfg.SlackURL != "" {
			notifiers = append(notifiers, notify.NewSlack(cfg.SlackURL, cfg.SlackUsername, cfg.NotifyEvents))
			logger.Log("slack", "enabled")
		}
		if cfg.TelegramToken != "" {
			tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, cfg.NotifyEvents, &http.Client{Timeout: 10 * time.Second})
			if err != nil {
				// Notifications are a nicety; carry on without them
				logger.Log("telegram", "disabled", "err", err)
			} else {
				notifiers = append(notifiers, tg)
				logger.Log("telegram", "enabled", "chat", cfg.TelegramChatID)
			}
		}
		if len(notifiers) > 0 {
			notifier = notify.Multi(notifiers...)
		}
	}

	orchestrator := pipeline.New(pipeline.Components{
		Builder:     builder,
		Registry:    reg,
		Provisioner: provisioner,
		Verifier:    verifier,
		Notifier:    notifier,
		Events:      history.TeeWriter(events, eventLogger{log.With(logger, "component", "events")}),
	}, pipeline.Config{
		Services:           services,
		Routes:             routes,
		ProductionID:       cfg.ProductionID,
		StagingDeadline:    cfg.StagingDeadline,
		ProductionDeadline: cfg.ProductionDeadline,
		TeardownTimeout:    cfg.TeardownTimeout,
		Parallelism:        cfg.BuildParallelism,
		RetainRuns:         cfg.RetainRuns,
	}, shutdown, shutdownWg, log.With(logger, "component", "pipeline"))

	d := &daemon.Daemon{
		V:        version,
		Pipeline: orchestrator,
		History:  events,
		Logger:   log.With(logger, "component", "daemon"),
	}

	if cfg.CheckForUpdates {
		checker := checkpoint.CheckForUpdates(product, version, map[string]string{
			"services": strconv.Itoa(len(services)),
			"history":  historyKind(cfg),
			"cache":    cfg.CacheBackend,
		}, log.With(logger, "component", "checkpoint"))
		defer checker.Stop()
	}

	// HTTP transport component.
	var servers []*http.Server
	{
		logger := log.With(logger, "component", "http")
		mux := http.NewServeMux()
		mux.HandleFunc(transport.HealthPath, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		if cfg.ListenMetrics == "" || cfg.ListenMetrics == cfg.Listen {
			mux.Handle(transport.MetricsPath, promhttp.Handler())
		} else {
			metricsMux := http.NewServeMux()
			metricsMux.Handle(transport.MetricsPath, promhttp.Handler())
			servers = append(servers, &http.Server{Addr: cfg.ListenMetrics, Handler: metricsMux})
		}
		mux.Handle("/", daemonhttp.NewHandler(d, daemonhttp.NewRouter(), daemonhttp.Auth{
			WebhookSecret: cfg.WebhookSecret,
			Token:         cfg.Token,
			MaxSkew:       cfg.WebhookSkew,
		}, logger))
		servers = append(servers, &http.Server{Addr: cfg.Listen, Handler: mux})

		if cfg.WebhookSecret == "" {
			logger.Log("warning", "no webhook secret given; source change events will be accepted unsigned")
		}
		for _, srv := range servers {
			srv := srv
			go func() {
				logger.Log("addr", srv.Addr)
				serve(srv, errc)
			}()
		}
	}

	// Go!
	shutdownErr := <-errc
	logger.Log("exiting", shutdownErr)

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		srv.Shutdown(shutdownCtx)
	}
	close(shutdown)
	shutdownWg.Wait()
	if stopCache != nil {
		stopCache()
	}
}

// serve runs srv until it fails or is shut down. Only a failure is
// reported on errc.
func serve(srv *http.Server, errc chan<- error) {
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errc <- err
	}
}

func historyKind(cfg config.Config) string {
	if cfg.HistoryURL != "" {
		return "sql"
	}
	return "memory"
}

// parseLabels reads key=value pairs.
func parseLabels(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	labels := map[string]string{}
	for _, p := range pairs {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		labels[kv[0]] = kv[1]
	}
	return labels, nil
}

// eventLogger writes pipeline events to the log, so there's a
// record of them wherever the history is kept.
type eventLogger struct {
	logger log.Logger
}

func (l eventLogger) LogEvent(e history.Event) error {
	return l.logger.Log("run", e.RunID, "event", e.String())
}
