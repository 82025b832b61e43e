package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mcuadros/go-defaults"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is layered: struct defaults, then the TOML file, then environment.
type Config struct {
	DataDir      string `toml:"data_dir" default:"/var/lib/faceguard"`
	LogDir       string `toml:"log_dir" default:"/var/log/faceguard"`
	DatabaseFile string `toml:"database_file"` // default <data_dir>/faceguard.db
	KeyFile      string `toml:"key_file"`      // default <data_dir>/credential.key

	Threshold          float64       `toml:"face_recognition_threshold" default:"0.75"`
	MaxFailedAttempts  int           `toml:"max_failed_attempts" default:"15"`
	LockoutDuration    time.Duration `toml:"lockout_duration" default:"5m"`
	LockoutDurationMs  int64         `toml:"lockoutDurationMs"` // overrides LockoutDuration when set
	Cooldown           time.Duration `toml:"cooldown" default:"2s"`
	TickInterval       time.Duration `toml:"tick_interval" default:"200ms"`
	LivenessEnabled    bool          `toml:"liveness_detection_enabled" default:"true"`
	AdaptiveThreshold  bool          `toml:"adaptive_threshold" default:"false"`
	ImageCorroboration bool          `toml:"image_corroboration" default:"false"`
	RegisterMaxFrames  int           `toml:"register_max_frames" default:"50"`

	// Capture. FrameDir replays image files instead of reading a camera.
	CameraDevice int    `toml:"camera_device" default:"0"`
	FrameDir     string `toml:"frame_dir"`

	// Models. CascadeFile is a pigo facefinder cascade; the others are only
	// used by gocv builds.
	CascadeFile     string `toml:"cascade_file" default:"/usr/share/faceguard/facefinder"`
	DetectorModel   string `toml:"detector_model"`
	EmbeddingModel  string `toml:"embedding_model"`
	EmbeddingConfig string `toml:"embedding_config"`

	// LockCommand runs on lockout. Empty disables it.
	LockCommand string `toml:"lock_command" default:"loginctl lock-session"`

	IntrusionSampleInterval time.Duration `toml:"intrusion_sample_interval" default:"1s"`
	MotionThreshold         float64       `toml:"motion_threshold" default:"0.05"`

	MQTTBroker      string `toml:"mqtt_broker"`
	MQTTTopic       string `toml:"mqtt_topic" default:"faceguard/alerts"`
	MQTTUsername    string `toml:"mqtt_username"`
	MQTTPassword    string `toml:"mqtt_password"`
	MQTTQoS         int    `toml:"mqtt_qos" default:"1"`
	WebhookURL      string `toml:"webhook_url"`
	WebhookSecret   string `toml:"webhook_secret"`
	AlertsPerMinute int    `toml:"alerts_per_minute" default:"6"`

	// StatusAddr is the status API listen address. Empty disables it.
	StatusAddr string `toml:"status_addr" default:"127.0.0.1:8089"`

	Retention            time.Duration `toml:"retention" default:"720h"`
	HousekeepingInterval time.Duration `toml:"housekeeping_interval" default:"1h"`
	ShutdownGracePeriod  time.Duration `toml:"shutdown_grace_period" default:"10s"`

	Env       string `toml:"env" default:"prod"`
	LogLevel  string `toml:"log_level" default:"info"`
	LogFormat string `toml:"log_format" default:"json"`
}

// LoadConfig builds the configuration. path, or FACEGUARD_CONFIG when path
// is empty, names an optional TOML file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	defaults.SetDefaults(&cfg)

	if path == "" {
		path = os.Getenv("FACEGUARD_CONFIG")
	}
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("%w: unknown keys %v in %s", ErrInvalidConfig, undecoded, path)
		}
	}

	applyEnv(&cfg)

	if cfg.LockoutDurationMs > 0 {
		cfg.LockoutDuration = time.Duration(cfg.LockoutDurationMs) * time.Millisecond
	}
	if cfg.DatabaseFile == "" {
		cfg.DatabaseFile = filepath.Join(cfg.DataDir, "faceguard.db")
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = filepath.Join(cfg.DataDir, "credential.key")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DataDir = getEnvOrDefault("FACEGUARD_DATA_DIR", cfg.DataDir)
	cfg.LogDir = getEnvOrDefault("FACEGUARD_LOG_DIR", cfg.LogDir)
	cfg.DatabaseFile = getEnvOrDefault("FACEGUARD_DATABASE_FILE", cfg.DatabaseFile)
	cfg.KeyFile = getEnvOrDefault("FACEGUARD_KEY_FILE", cfg.KeyFile)

	cfg.Threshold = getEnvFloatOrDefault("FACEGUARD_THRESHOLD", cfg.Threshold)
	cfg.MaxFailedAttempts = getEnvIntOrDefault("FACEGUARD_MAX_FAILED_ATTEMPTS", cfg.MaxFailedAttempts)
	cfg.LockoutDuration = getEnvDurationOrDefault("FACEGUARD_LOCKOUT_DURATION", cfg.LockoutDuration)
	cfg.Cooldown = getEnvDurationOrDefault("FACEGUARD_COOLDOWN", cfg.Cooldown)
	cfg.LivenessEnabled = getEnvBoolOrDefault("FACEGUARD_LIVENESS", cfg.LivenessEnabled)
	cfg.AdaptiveThreshold = getEnvBoolOrDefault("FACEGUARD_ADAPTIVE_THRESHOLD", cfg.AdaptiveThreshold)
	cfg.ImageCorroboration = getEnvBoolOrDefault("FACEGUARD_IMAGE_CORROBORATION", cfg.ImageCorroboration)

	cfg.CameraDevice = getEnvIntOrDefault("FACEGUARD_CAMERA_DEVICE", cfg.CameraDevice)
	cfg.FrameDir = getEnvOrDefault("FACEGUARD_FRAME_DIR", cfg.FrameDir)
	cfg.CascadeFile = getEnvOrDefault("FACEGUARD_CASCADE_FILE", cfg.CascadeFile)
	cfg.DetectorModel = getEnvOrDefault("FACEGUARD_DETECTOR_MODEL", cfg.DetectorModel)
	cfg.EmbeddingModel = getEnvOrDefault("FACEGUARD_EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.EmbeddingConfig = getEnvOrDefault("FACEGUARD_EMBEDDING_CONFIG", cfg.EmbeddingConfig)

	// Set but empty disables these two.
	if v, ok := os.LookupEnv("FACEGUARD_LOCK_COMMAND"); ok {
		cfg.LockCommand = v
	}
	if v, ok := os.LookupEnv("FACEGUARD_STATUS_ADDR"); ok {
		cfg.StatusAddr = v
	}

	cfg.MQTTBroker = getEnvOrDefault("FACEGUARD_MQTT_BROKER", cfg.MQTTBroker)
	cfg.MQTTTopic = getEnvOrDefault("FACEGUARD_MQTT_TOPIC", cfg.MQTTTopic)
	cfg.MQTTUsername = getEnvOrDefault("FACEGUARD_MQTT_USERNAME", cfg.MQTTUsername)
	cfg.MQTTPassword = getEnvOrDefault("FACEGUARD_MQTT_PASSWORD", cfg.MQTTPassword)
	cfg.WebhookURL = getEnvOrDefault("FACEGUARD_WEBHOOK_URL", cfg.WebhookURL)
	cfg.WebhookSecret = getEnvOrDefault("FACEGUARD_WEBHOOK_SECRET", cfg.WebhookSecret)

	cfg.Retention = getEnvDurationOrDefault("FACEGUARD_RETENTION", cfg.Retention)
	cfg.HousekeepingInterval = getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", cfg.HousekeepingInterval)
	cfg.ShutdownGracePeriod = getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", cfg.ShutdownGracePeriod)

	cfg.Env = getEnvOrDefault("ENV", cfg.Env)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", cfg.LogFormat)
}

// Validate rejects settings the authentication loop cannot run with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.DataDir != "", "data_dir is required")
	check(c.LogDir != "", "log_dir is required")
	check(c.Threshold > 0 && c.Threshold <= 1, "face_recognition_threshold %v outside (0,1]", c.Threshold)
	check(c.MaxFailedAttempts >= 1, "max_failed_attempts must be at least 1")
	check(c.LockoutDuration > 0, "lockout_duration must be positive")
	check(c.Cooldown >= 0, "cooldown must not be negative")
	check(c.TickInterval > 0, "tick_interval must be positive")
	check(c.RegisterMaxFrames >= 1, "register_max_frames must be at least 1")
	check(c.IntrusionSampleInterval > 0, "intrusion_sample_interval must be positive")
	check(c.MotionThreshold > 0 && c.MotionThreshold <= 1, "motion_threshold %v outside (0,1]", c.MotionThreshold)
	check(c.MQTTQoS >= 0 && c.MQTTQoS <= 2, "mqtt_qos must be 0, 1 or 2")
	check(c.WebhookURL == "" || c.WebhookSecret != "", "webhook_secret is required with webhook_url")
	check(c.AlertsPerMinute >= 0, "alerts_per_minute must not be negative")
	check(c.Retention > 0, "retention must be positive")

	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be json or text", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// LockArgs splits LockCommand into argv.
func (c Config) LockArgs() []string {
	return strings.Fields(c.LockCommand)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are milliseconds, matching lockoutDurationMs.
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	return defaultValue
}
