package main

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fluxcd/conveyor/pkg/config"
	transport "github.com/fluxcd/conveyor/pkg/http"
	"github.com/fluxcd/conveyor/pkg/pipeline"
)

const envPrefix = "CONVEYOR"

// defineConfigFlags defines the flags that can also be set in
// a config file. These need special treatment, because some care must
// be taken to match them ("bind") with config file field names.
func defineConfigFlags(fs *pflag.FlagSet, v *viper.Viper, bail func(error)) {

	bind := func(fieldName, flagName string) error {
		configStruct := reflect.TypeOf(config.Config{})
		field, ok := configStruct.FieldByName(fieldName)
		if !ok {
			return fmt.Errorf("attempt to bind a flag to a field not present in config.Config, %q", fieldName)
		}
		tag := field.Tag
		// this parallels the logic in
		// github.com/mitchellh/mapstructure, except that we want to
		// bail if a field is mentioned that is marked ignore, like
		// this: `mapstructure:"-"`
		mappedName := field.Name
		mapstructureTagParts := strings.Split(tag.Get("mapstructure"), ",")
		if namePart := mapstructureTagParts[0]; namePart != "" {
			if namePart == "-" { // means ignore this field
				return fmt.Errorf(`attempt to bind a flag to a config field tagged as ignored, %q`, field.Name)
			}
			mappedName = namePart
		}
		if err := v.BindPFlag(mappedName, fs.Lookup(flagName)); err != nil {
			return err
		}
		// environment variables are named after flags, e.g.,
		// CONVEYOR_WEBHOOK_SECRET for --webhook-secret
		return v.BindEnv(mappedName, envPrefix+"_"+strings.ToUpper(strings.Replace(flagName, "-", "_", -1)))
	}

	bindOrBail := func(fieldName, flagName string) {
		if err := bind(fieldName, flagName); err != nil {
			bail(err)
		}
	}

	defineString := func(fieldName, flagName, def, desc string) {
		fs.String(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineStringP := func(fieldName, flagName, short, def, desc string) {
		fs.StringP(flagName, short, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineStringSlice := func(fieldName, flagName string, def []string, desc string) {
		fs.StringSlice(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineBool := func(fieldName, flagName string, def bool, desc string) {
		fs.Bool(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineDuration := func(fieldName, flagName string, def time.Duration, desc string) {
		fs.Duration(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineInt := func(fieldName, flagName string, def int, desc string) {
		fs.Int(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineInt64 := func(fieldName, flagName string, def int64, desc string) {
		fs.Int64(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineFloat64 := func(fieldName, flagName string, def float64, desc string) {
		fs.Float64(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineString("LogFormat", "log-format", "fmt", "change the log format (one of fmt, json)")
	defineStringP("Listen", "listen", "l", ":3030", "listen address where /metrics, /health and the API will be served")
	defineString("ListenMetrics", "listen-metrics", "", "listen address for /metrics endpoint, if it should not be served with the API")

	// pipeline
	defineString("PipelineFile", "pipeline-file", "", "path to the pipeline file listing the services to build and deploy")
	defineString("IntegrationBranch", "integration-branch", "", fmt.Sprintf("glob matching the branch whose pushes start runs; overrides the pipeline file (default %q)", pipeline.DefaultRoutes.Integration))
	defineString("MainBranch", "main-branch", "", fmt.Sprintf("glob matching the branch whose merges promote runs; overrides the pipeline file (default %q)", pipeline.DefaultRoutes.Main))
	defineString("ProductionID", "production-id", pipeline.DefaultProductionID, "identifier of the production environment")
	defineDuration("StagingDeadline", "staging-deadline", 5*time.Minute, "how long services in staging have to become healthy")
	defineDuration("ProductionDeadline", "production-deadline", 10*time.Minute, "how long services in production have to become healthy after an update")
	defineDuration("TeardownTimeout", "teardown-timeout", pipeline.DefaultTeardownTimeout, "maximum time to wait for a staging environment to be destroyed")
	defineDuration("TestTimeout", "test-timeout", 15*time.Minute, "maximum time a service's unit tests may run")
	defineInt("BuildParallelism", "build-parallelism", 0, "maximum number of services built or published at once; 0 means no limit")
	defineInt("RetainRuns", "retain-runs", 100, "number of runs to remember; finished runs beyond this are forgotten, oldest first")

	// authentication
	defineString("Token", "token", "", "if set, API requests other than pings and webhooks must carry this bearer token")
	defineString("WebhookSecret", "webhook-secret", "", "if set, source change events must be signed with this secret")
	defineDuration("WebhookSkew", "webhook-skew", transport.DefaultMaxSkew, "how far the timestamp of a signed webhook may be from the daemon's clock")

	// health
	defineDuration("HealthInterval", "health-interval", 5*time.Second, "period at which to poll services' health endpoints")
	defineInt("HealthSuccesses", "health-successes", 2, "number of consecutive passing checks for a service to count as healthy")
	defineDuration("HealthTimeout", "health-timeout", 3*time.Second, "maximum time a single health check may take")

	// registry
	defineString("RegistryHost", "registry-host", "", "host (and port) of the OCI registry artifacts are published to")
	defineString("RegistryPrefix", "registry-prefix", "conveyor", "repository prefix under which each service has its repository")
	defineString("RegistryUser", "registry-user", "", "username for the registry")
	defineString("RegistryPassword", "registry-password", "", "password for the registry")
	defineBool("RegistryInsecure", "registry-insecure", false, "talk plain HTTP to the registry")
	defineDuration("RegistryTimeout", "registry-timeout", time.Minute, "maximum time a single registry request may take")
	defineFloat64("RegistryRPS", "registry-rps", 50, "maximum registry requests per second")
	defineInt("RegistryBurst", "registry-burst", 10, "maximum burst of registry requests")

	// artifact presence cache
	defineString("CacheBackend", "cache-backend", config.CacheMemory, "where to remember which artifacts the registry has (one of none, memory, memcached, redis)")
	defineDuration("CacheTTL", "cache-ttl", time.Hour, "how long to trust a remembered artifact before asking the registry again")
	defineString("MemcachedHostname", "memcached-hostname", "memcached", "hostname for memcached service.")
	defineInt("MemcachedPort", "memcached-port", 11211, "memcached service port; if not 0, the hostname is used as is rather than for SRV lookups")
	defineString("MemcachedService", "memcached-service", "memcached", "SRV service used to discover memcache servers.")
	defineDuration("MemcachedTimeout", "memcached-timeout", time.Second, "maximum time to wait before giving up on memcached requests.")
	defineString("RedisService", "redis-service", "redis", "hostname for redis service")
	defineInt("RedisPort", "redis-port", 6379, "redis service port")
	defineString("RedisPassword", "redis-password", "", "password for redis")

	// kubernetes
	defineString("Kubeconfig", "kubeconfig", "", "path to a kubeconfig; if not given, the in-cluster service account is used")
	defineString("K8sClusterDomain", "k8s-cluster-domain", "cluster.local", "DNS suffix of in-cluster service names")
	defineInt("K8sReplicas", "k8s-replicas", 1, "replicas of each service in an environment")
	defineString("K8sDatabaseImage", "k8s-database-image", "postgres:16-alpine", "image for environments' database instances")
	defineStringSlice("K8sAllowFrom", "k8s-allow-from", []string{}, "namespace labels, as key=value, of namespaces allowed to reach into environments")

	// history
	defineString("HistoryURL", "history-url", "", "postgres URL of the event history database; if not given, history is kept in memory")
	defineInt("HistorySize", "history-size", 10000, "number of events kept in memory, when there is no history database")

	// build logs
	defineString("LogDir", "log-dir", "", "directory in which to keep build logs")
	defineString("LogS3Endpoint", "log-s3-endpoint", "", "S3-compatible endpoint in which to keep build logs; takes precedence over --log-dir")
	defineString("LogS3Bucket", "log-s3-bucket", "conveyor-logs", "bucket for build logs")
	defineString("LogS3Region", "log-s3-region", "", "region of the bucket for build logs")
	defineString("LogS3AccessKey", "log-s3-access-key", "", "access key for the build log store")
	defineString("LogS3SecretKey", "log-s3-secret-key", "", "secret key for the build log store")
	defineBool("LogS3Insecure", "log-s3-insecure", false, "talk plain HTTP to the build log store")

	// notifications
	defineString("SlackURL", "slack-url", "", "Slack incoming webhook URL to notify")
	defineString("SlackUsername", "slack-username", "conveyor", "username to post to Slack as")
	defineString("TelegramToken", "telegram-token", "", "token of the Telegram bot to notify through")
	defineInt64("TelegramChatID", "telegram-chat-id", 0, "Telegram chat to notify")
	defineStringSlice("NotifyEvents", "notify-events", []string{}, "kinds of notification to send (AwaitingPromotion, Succeeded, Failed, Aborted); empty means all")

	defineBool("CheckForUpdates", "check-for-updates", true, "check now and then whether there is a newer release")
}

// loadConfig reads the config file, if there is one, and gives the
// configuration with flags and environment variables applied over
// it.
func loadConfig(v *viper.Viper, configFile string) (config.Config, error) {
	var cfg config.Config
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType(config.ConfigType)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("reading config file %s: %s", configFile, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding configuration: %s", err)
	}
	if configFile != "" {
		if err := cfg.IsValid(); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Check()
}
