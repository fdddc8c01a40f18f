// config is the package containing configuration for conveyord,
// shared so it can be used by conveyord itself as well as other
// programs e.g., tests that stand up a daemon.
package config

import (
	"fmt"
	"time"
)

const (
	ConfigPath            = "/etc/conveyord/conf"
	ConfigName            = "conveyor-config.yaml"
	ConfigType            = "yaml"
	ConveyorConfigVersion = "v1"
)

type Config struct {
	// This is expected to be present in a config file (and will not
	// correspond to a flag). The value determines how the config file
	// is interpreted: for now, if it is not equal to
	// ConveyorConfigVersion above, it is considered an invalid
	// configuration.
	ConfigVersion string `mapstructure:"conveyorConfigVersion"`

	LogFormat     string `mapstructure:"logFormat"`
	Listen        string `mapstructure:"listen"`
	ListenMetrics string `mapstructure:"listenMetrics"`

	// The pipeline: which services, and which branches
	PipelineFile      string `mapstructure:"pipelineFile"`
	IntegrationBranch string `mapstructure:"integrationBranch"`
	MainBranch        string `mapstructure:"mainBranch"`

	Token         string        `mapstructure:"token"`
	WebhookSecret string        `mapstructure:"webhookSecret"`
	WebhookSkew   time.Duration `mapstructure:"webhookSkew"`

	ProductionID       string        `mapstructure:"productionId"`
	StagingDeadline    time.Duration `mapstructure:"stagingDeadline"`
	ProductionDeadline time.Duration `mapstructure:"productionDeadline"`
	TeardownTimeout    time.Duration `mapstructure:"teardownTimeout"`
	TestTimeout        time.Duration `mapstructure:"testTimeout"`
	BuildParallelism   int           `mapstructure:"buildParallelism"`
	RetainRuns         int           `mapstructure:"retainRuns"`

	HealthInterval  time.Duration `mapstructure:"healthInterval"`
	HealthSuccesses int           `mapstructure:"healthSuccesses"`
	HealthTimeout   time.Duration `mapstructure:"healthTimeout"`

	RegistryHost     string        `mapstructure:"registryHost"`
	RegistryPrefix   string        `mapstructure:"registryPrefix"`
	RegistryUser     string        `mapstructure:"registryUser"`
	RegistryPassword string        `mapstructure:"registryPassword"`
	RegistryInsecure bool          `mapstructure:"registryInsecure"`
	RegistryTimeout  time.Duration `mapstructure:"registryTimeout"`
	RegistryRPS      float64       `mapstructure:"registryRps"`
	RegistryBurst    int           `mapstructure:"registryBurst"`

	CacheBackend      string        `mapstructure:"cacheBackend"`
	CacheTTL          time.Duration `mapstructure:"cacheTtl"`
	MemcachedHostname string        `mapstructure:"memcachedHostname"`
	MemcachedPort     int           `mapstructure:"memcachedPort"`
	MemcachedService  string        `mapstructure:"memcachedService"`
	MemcachedTimeout  time.Duration `mapstructure:"memcachedTimeout"`
	RedisService      string        `mapstructure:"redisService"`
	RedisPort         int           `mapstructure:"redisPort"`
	RedisPassword     string        `mapstructure:"redisPassword"`

	Kubeconfig       string   `mapstructure:"kubeconfig"`
	K8sClusterDomain string   `mapstructure:"k8sClusterDomain"`
	K8sReplicas      int      `mapstructure:"k8sReplicas"`
	K8sDatabaseImage string   `mapstructure:"k8sDatabaseImage"`
	K8sAllowFrom     []string `mapstructure:"k8sAllowFrom"`

	HistoryURL  string `mapstructure:"historyUrl"`
	HistorySize int    `mapstructure:"historySize"`

	LogDir         string `mapstructure:"logDir"`
	LogS3Endpoint  string `mapstructure:"logS3Endpoint"`
	LogS3Bucket    string `mapstructure:"logS3Bucket"`
	LogS3Region    string `mapstructure:"logS3Region"`
	LogS3AccessKey string `mapstructure:"logS3AccessKey"`
	LogS3SecretKey string `mapstructure:"logS3SecretKey"`
	LogS3Insecure  bool   `mapstructure:"logS3Insecure"`

	SlackURL        string   `mapstructure:"slackUrl"`
	SlackUsername   string   `mapstructure:"slackUsername"`
	TelegramToken   string   `mapstructure:"telegramToken"`
	TelegramChatID  int64    `mapstructure:"telegramChatId"`
	NotifyEvents    []string `mapstructure:"notifyEvents"`
	CheckForUpdates bool     `mapstructure:"checkForUpdates"`
}

// Cache backends for artifact presence.
const (
	CacheNone      = "none"
	CacheMemory    = "memory"
	CacheMemcached = "memcached"
	CacheRedis     = "redis"
)

func (c Config) IsValid() error {
	if c.ConfigVersion != ConveyorConfigVersion {
		return fmt.Errorf("config file is expected to include `conveyorConfigVersion: %s` to mark it as a conveyor config", ConveyorConfigVersion)
	}
	return nil
}

// Check looks for settings that cannot work together, whether they
// came from flags or a file.
func (c Config) Check() error {
	if c.PipelineFile == "" {
		return fmt.Errorf("a pipeline file must be given with --pipeline-file")
	}
	if c.RegistryHost == "" {
		return fmt.Errorf("a registry host must be given with --registry-host")
	}
	switch c.CacheBackend {
	case "", CacheNone, CacheMemory, CacheMemcached, CacheRedis:
	default:
		return fmt.Errorf("unknown cache backend %q (expected one of none, memory, memcached, redis)", c.CacheBackend)
	}
	if c.LogS3Endpoint != "" && c.LogS3Bucket == "" {
		return fmt.Errorf("--log-s3-bucket is required with --log-s3-endpoint")
	}
	if (c.TelegramToken == "") != (c.TelegramChatID == 0) {
		return fmt.Errorf("--telegram-token and --telegram-chat-id must be given together")
	}
	if c.StagingDeadline <= 0 || c.ProductionDeadline <= 0 {
		return fmt.Errorf("health deadlines must be positive")
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("--health-interval must be positive")
	}
	return nil
}
