package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/semmidev/logship/internal/domain"
	"github.com/semmidev/logship/internal/infrastructure/scheduler"
	"github.com/spf13/viper"
)

const (
	StorageDisk  = "disk"
	StorageS3    = "s3"
	StorageAzure = "azblob"
)

type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Destination DestinationConfig `mapstructure:"destination"`
	Source      SourceConfig      `mapstructure:"source"`
	Restore     RestoreConfig     `mapstructure:"restore"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
	Status      StatusConfig      `mapstructure:"status"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
}

type AppConfig struct {
	Name          string `mapstructure:"name"`
	LogLevel      string `mapstructure:"log_level"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days"`
}

type DestinationConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	ConnectRetries   int    `mapstructure:"connect_retries"`
	// StandbyFileName leaves databases readable between restores when set.
	StandbyFileName     string `mapstructure:"standby_file_name"`
	KillUserConnections bool   `mapstructure:"kill_user_connections"`
	RollbackAfter       int    `mapstructure:"rollback_after"`
}

type SourceConfig struct {
	Type string `mapstructure:"type"`
	// LogPath, FullFilePath and DiffFilePath may list several roots
	// separated by commas.
	LogPath      string      `mapstructure:"log_path"`
	FullFilePath string      `mapstructure:"full_file_path"`
	DiffFilePath string      `mapstructure:"diff_file_path"`
	S3           S3Config    `mapstructure:"s3"`
	Azure        AzureConfig `mapstructure:"azure"`
}

type S3Config struct {
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type AzureConfig struct {
	ContainerURL string `mapstructure:"container_url"`
	SASToken     string `mapstructure:"sas_token"`
}

type RestoreConfig struct {
	MaxThreads        int           `mapstructure:"max_threads"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
	Offset            time.Duration `mapstructure:"offset"`
	RestoreDelay      time.Duration `mapstructure:"restore_delay"`
	StopAt            time.Time     `mapstructure:"stop_at"`
	CheckHeaders      bool          `mapstructure:"check_headers"`
	Prefix            string        `mapstructure:"prefix"`
	Suffix            string        `mapstructure:"suffix"`
	Included          []string      `mapstructure:"included"`
	Excluded          []string      `mapstructure:"excluded"`
}

type ScheduleConfig struct {
	Cron  string        `mapstructure:"cron"`
	Delay time.Duration `mapstructure:"delay"`
	Hours []int         `mapstructure:"hours"`
}

type StatusConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "logship")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_file", "")
	v.SetDefault("app.log_max_size_mb", 100)
	v.SetDefault("app.log_max_backups", 3)
	v.SetDefault("app.log_max_age_days", 28)

	v.SetDefault("destination.connection_string", "")
	v.SetDefault("destination.connect_retries", 5)
	v.SetDefault("destination.standby_file_name", "")
	v.SetDefault("destination.kill_user_connections", true)
	v.SetDefault("destination.rollback_after", 60)

	v.SetDefault("source.type", StorageDisk)
	v.SetDefault("source.log_path", "")
	v.SetDefault("source.full_file_path", "")
	v.SetDefault("source.diff_file_path", "")
	v.SetDefault("source.s3.access_key", "")
	v.SetDefault("source.s3.secret_key", "")
	v.SetDefault("source.azure.container_url", "")
	v.SetDefault("source.azure.sas_token", "")

	v.SetDefault("restore.max_threads", 5)
	v.SetDefault("restore.max_processing_time", "60m")
	v.SetDefault("restore.offset", "0s")
	v.SetDefault("restore.restore_delay", "0s")
	v.SetDefault("restore.stop_at", "")
	v.SetDefault("restore.check_headers", true)
	v.SetDefault("restore.prefix", "")
	v.SetDefault("restore.suffix", "")
	v.SetDefault("restore.included", []string{})
	v.SetDefault("restore.excluded", []string{})

	v.SetDefault("schedule.cron", "")
	v.SetDefault("schedule.delay", "1m")
	v.SetDefault("schedule.hours", []int{})

	v.SetDefault("status.address", "")
	v.SetDefault("status.read_timeout", "5s")
	v.SetDefault("status.write_timeout", "5s")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
}

// emptyTimeHook decodes an empty string into the zero time.
func emptyTimeHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}
	if strings.TrimSpace(data.(string)) == "" {
		return time.Time{}, nil
	}
	return data, nil
}

// intSliceHook decodes a comma-separated string such as an environment
// value "22,23" into []int.
func intSliceHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf([]int(nil)) {
		return data, nil
	}

	out := []int{}
	for _, part := range strings.Split(data.(string), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", part, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Load reads path, when given, then applies LOGSHIP_ environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LOGSHIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		emptyTimeHook,
		intSliceHook,
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Restore.Included = trimAll(cfg.Restore.Included)
	cfg.Restore.Excluded = trimAll(cfg.Restore.Excluded)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func trimAll(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.Destination.ConnectionString == "" {
		return fmt.Errorf("destination.connection_string is required")
	}

	if c.Source.LogPath == "" {
		return fmt.Errorf("source.log_path is required")
	}
	if !strings.Contains(strings.ToLower(c.Source.LogPath), strings.ToLower(domain.DatabaseToken)) {
		return fmt.Errorf("source.log_path must contain %s", domain.DatabaseToken)
	}

	switch c.Source.Type {
	case StorageDisk, StorageS3:
	case StorageAzure:
		if c.Source.Azure.ContainerURL == "" {
			return fmt.Errorf("source.azure.container_url is required for azblob storage")
		}
	default:
		return fmt.Errorf("unknown source.type %q, expected disk, s3 or azblob", c.Source.Type)
	}

	if c.Restore.MaxThreads < 1 {
		return fmt.Errorf("restore.max_threads must be at least 1")
	}

	if c.Schedule.Cron != "" {
		if _, err := scheduler.ParseCron(c.Schedule.Cron); err != nil {
			return fmt.Errorf("schedule.cron: %w", err)
		}
	} else if c.Schedule.Delay <= 0 {
		return fmt.Errorf("schedule.delay must be positive when no cron expression is set")
	}

	if _, err := scheduler.NewActiveHours(c.Schedule.Hours); err != nil {
		return fmt.Errorf("schedule.hours: %w", err)
	}

	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id are required when telegram is enabled")
	}

	return nil
}

// Mapper converts between source and target database names.
func (c *Config) Mapper() domain.NameMapper {
	return domain.NameMapper{Prefix: c.Restore.Prefix, Suffix: c.Restore.Suffix}
}
