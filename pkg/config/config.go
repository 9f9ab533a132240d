package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// DefaultDeleteModulesTaskClass is the adhoc task class queued by asynchronous module deletion.
const DefaultDeleteModulesTaskClass = `\core_course\task\course_delete_modules`

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Metrics  MetricsConfig
	Repair   RepairConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	TablePrefix  string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
}

// RepairConfig governs how stuck deletion tasks are found and repaired.
type RepairConfig struct {
	TaskClass     string
	MinFailDelay  time.Duration
	FileDir       string
	EventChannel  string
	ResultTTL     time.Duration
	CacheKeyRoot  string
	QueueCapacity int
	RunTimeout    time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		TablePrefix:  v.GetString("DB_TABLE_PREFIX"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Issuer:     v.GetString("JWT_ISSUER"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Metrics = MetricsConfig{
		Enabled: v.GetBool("ENABLE_METRICS"),
	}

	cfg.Repair = RepairConfig{
		TaskClass:     v.GetString("REPAIR_TASK_CLASS"),
		MinFailDelay:  parseDuration(v.GetString("REPAIR_MIN_FAIL_DELAY"), 0),
		FileDir:       v.GetString("REPAIR_FILEDIR"),
		EventChannel:  v.GetString("REPAIR_EVENT_CHANNEL"),
		ResultTTL:     parseDuration(v.GetString("REPAIR_RESULT_TTL"), 24*time.Hour),
		CacheKeyRoot:  v.GetString("REPAIR_CACHE_KEY_ROOT"),
		QueueCapacity: v.GetInt("REPAIR_QUEUE_CAPACITY"),
		RunTimeout:    parseDuration(v.GetString("REPAIR_RUN_TIMEOUT"), 30*time.Minute),
	}
	if cfg.Repair.TaskClass == "" {
		cfg.Repair.TaskClass = DefaultDeleteModulesTaskClass
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "moodle")
	v.SetDefault("DB_PASSWORD", "moodle")
	v.SetDefault("DB_NAME", "moodle")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_TABLE_PREFIX", "mdl_")
	v.SetDefault("DB_MAX_OPEN_CONNS", 4)
	v.SetDefault("DB_MAX_IDLE_CONNS", 2)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "fixdeletemodules")
	v.SetDefault("JWT_EXPIRATION", "1h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_METRICS", true)

	v.SetDefault("REPAIR_TASK_CLASS", DefaultDeleteModulesTaskClass)
	v.SetDefault("REPAIR_MIN_FAIL_DELAY", "0s")
	v.SetDefault("REPAIR_FILEDIR", "")
	v.SetDefault("REPAIR_EVENT_CHANNEL", "moodle:events:course_module_deleted")
	v.SetDefault("REPAIR_RESULT_TTL", "24h")
	v.SetDefault("REPAIR_CACHE_KEY_ROOT", "coursemodinfo")
	v.SetDefault("REPAIR_QUEUE_CAPACITY", 8)
	v.SetDefault("REPAIR_RUN_TIMEOUT", "30m")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
