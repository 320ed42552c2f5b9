package cmd

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app       = "fit-analyzer"
	envPrefix = "FIT"
)

type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Status  StatusConfig  `mapstructure:"status"`
	Storage StorageConfig `mapstructure:"storage"`
	Mongo   MongoConfig   `mapstructure:"mongo"`
	Gemini  GeminiConfig  `mapstructure:"gemini"`
	Scraper ScraperConfig `mapstructure:"scraper"`
}

type HTTPConfig struct {
	Listen          string        `mapstructure:"listen"`
	CORSOrigins     []string      `mapstructure:"cors-origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
	MaxPollTimeout  time.Duration `mapstructure:"max-poll-timeout"`
}

type JobsConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue-size"`
	JobTimeout   time.Duration `mapstructure:"job-timeout"`
	DrainTimeout time.Duration `mapstructure:"drain-timeout"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
}

type StatusConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addrs        []string      `mapstructure:"addrs"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	PasswordFile string        `mapstructure:"password-file"`
	DB           int           `mapstructure:"db"`
	Prefix       string        `mapstructure:"prefix"`
	TTL          time.Duration `mapstructure:"ttl"`
}

type StorageConfig struct {
	Bucket              string        `mapstructure:"bucket"`
	Region              string        `mapstructure:"region"`
	Endpoint            string        `mapstructure:"endpoint"`
	AccessKeyID         string        `mapstructure:"access-key-id"`
	SecretAccessKey     string        `mapstructure:"secret-access-key"`
	SecretAccessKeyFile string        `mapstructure:"secret-access-key-file"`
	PresignExpiry       time.Duration `mapstructure:"presign-expiry"`
}

type MongoConfig struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type GeminiConfig struct {
	APIKey       string        `mapstructure:"api-key"`
	APIKeyFile   string        `mapstructure:"api-key-file"`
	Model        string        `mapstructure:"model"`
	MaxRetries   int           `mapstructure:"max-retries"`
	StageTimeout time.Duration `mapstructure:"stage-timeout"`
	MaxLogLength int           `mapstructure:"max-log-length"`
}

type ScraperConfig struct {
	UserAgent   string        `mapstructure:"user-agent"`
	Timeout     time.Duration `mapstructure:"timeout"`
	JinaEnabled bool          `mapstructure:"jina-enabled"`
	JinaAPIKey  string        `mapstructure:"jina-api-key"`
	HHTokenFile string        `mapstructure:"hh-token-file"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "fit-analyzer compares a company's engineering culture with a developer profile",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	setDefaults()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	for key, env := range map[string]string{
		"gemini.api-key":        "GEMINI_API_KEY",
		"gemini.api-key-file":   "GEMINI_API_KEY_FILE",
		"mongo.uri":             "MONGODB_URI",
		"storage.bucket":        "S3_BUCKET_NAME",
		"storage.region":        "AWS_REGION",
		"status.redis.addrs":    "REDIS_ADDR",
		"scraper.hh-token-file": "HH_TOKEN_FILE",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is fit-analyzer.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func setDefaults() {
	viper.SetDefault("http.listen", ":8000")
	viper.SetDefault("http.cors-origins", []string{"*"})
	viper.SetDefault("http.shutdown-timeout", 10*time.Second)
	viper.SetDefault("http.max-poll-timeout", 120*time.Second)

	viper.SetDefault("jobs.workers", 4)
	viper.SetDefault("jobs.queue-size", 64)
	viper.SetDefault("jobs.job-timeout", 15*time.Minute)
	viper.SetDefault("jobs.drain-timeout", time.Minute)
	viper.SetDefault("jobs.poll-interval", time.Second)

	viper.SetDefault("status.backend", "memory")
	viper.SetDefault("status.redis.addrs", []string{"localhost:6379"})
	viper.SetDefault("status.redis.username", "")
	viper.SetDefault("status.redis.password", "")
	viper.SetDefault("status.redis.password-file", "")
	viper.SetDefault("status.redis.db", 0)
	viper.SetDefault("status.redis.prefix", "fit-analyzer:job:")
	viper.SetDefault("status.redis.ttl", 24*time.Hour)

	viper.SetDefault("storage.bucket", "uploads")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.endpoint", "")
	viper.SetDefault("storage.access-key-id", "")
	viper.SetDefault("storage.secret-access-key", "")
	viper.SetDefault("storage.secret-access-key-file", "")
	viper.SetDefault("storage.presign-expiry", time.Hour)

	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.database", "culture_fit")
	viper.SetDefault("mongo.timeout", 10*time.Second)

	viper.SetDefault("gemini.api-key", "")
	viper.SetDefault("gemini.api-key-file", "")
	viper.SetDefault("gemini.model", "gemini-2.5-flash")
	viper.SetDefault("gemini.max-retries", 1)
	viper.SetDefault("gemini.stage-timeout", 3*time.Minute)
	viper.SetDefault("gemini.max-log-length", 200)

	viper.SetDefault("scraper.user-agent", "")
	viper.SetDefault("scraper.timeout", 20*time.Second)
	viper.SetDefault("scraper.jina-enabled", true)
	viper.SetDefault("scraper.jina-api-key", "")
	viper.SetDefault("scraper.hh-token-file", "")
}

func initConfig() {
	// .env is optional and never overrides the real environment
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// Without an explicit --config the file is optional: defaults and env are enough.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
