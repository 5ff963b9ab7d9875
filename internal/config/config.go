package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration for the benchmark engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Worker      WorkerConfig      `yaml:"worker"`
	Cluster     ClusterConfig     `yaml:"cluster"`
	Report      ReportConfig      `yaml:"report"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds the coordinator's HTTP server configuration.
type ServerConfig struct {
	Address      string        `yaml:"address" env:"BENCH_SERVER_ADDRESS"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"BENCH_SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"BENCH_SERVER_WRITE_TIMEOUT"`
	EnableCORS   bool          `yaml:"enable_cors" env:"BENCH_SERVER_ENABLE_CORS"`
}

// CoordinatorConfig holds coordinator node configuration.
type CoordinatorConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"BENCH_COORDINATOR_HEARTBEAT_INTERVAL"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout" env:"BENCH_COORDINATOR_HEARTBEAT_TIMEOUT"`
	MaxWorkers        int           `yaml:"max_workers" env:"BENCH_COORDINATOR_MAX_WORKERS"`
	SampleQueueSize   int           `yaml:"sample_queue_size" env:"BENCH_COORDINATOR_SAMPLE_QUEUE_SIZE"`
}

// WorkerConfig holds worker daemon configuration.
type WorkerConfig struct {
	CoordinatorAddr string            `yaml:"coordinator_addr" env:"BENCH_WORKER_COORDINATOR_ADDR"`
	Slots           int               `yaml:"slots" env:"BENCH_WORKER_SLOTS"`
	Labels          map[string]string `yaml:"labels"`
	// ResultBatchSize bounds the number of samples shipped per result message.
	ResultBatchSize int `yaml:"result_batch_size" env:"BENCH_WORKER_RESULT_BATCH_SIZE"`
	// ResultFlushInterval is how often buffered samples are shipped upstream.
	ResultFlushInterval time.Duration `yaml:"result_flush_interval" env:"BENCH_WORKER_RESULT_FLUSH_INTERVAL"`
	// MaxConsecutiveFailures aborts a client after this many transport
	// errors in a row.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" env:"BENCH_WORKER_MAX_CONSECUTIVE_FAILURES"`
}

// ClusterConfig holds the benchmark target cluster connection settings.
type ClusterConfig struct {
	Hosts           []string      `yaml:"hosts" env:"BENCH_CLUSTER_HOSTS"`
	Username        string        `yaml:"username" env:"BENCH_CLUSTER_USERNAME"`
	Password        string        `yaml:"password" env:"BENCH_CLUSTER_PASSWORD"`
	Timeout         time.Duration `yaml:"timeout" env:"BENCH_CLUSTER_TIMEOUT"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host" env:"BENCH_CLUSTER_MAX_CONNS_PER_HOST"`
	// InsecureSkipTLSVerify disables certificate verification for https hosts.
	InsecureSkipTLSVerify bool   `yaml:"insecure_skip_tls_verify" env:"BENCH_CLUSTER_INSECURE_SKIP_TLS_VERIFY"`
	CAFile                string `yaml:"ca_file" env:"BENCH_CLUSTER_CA_FILE"`
	// ReadyAttempts and ReadyInterval control the pre-benchmark readiness
	// probe against the REST layer.
	ReadyAttempts int           `yaml:"ready_attempts" env:"BENCH_CLUSTER_READY_ATTEMPTS"`
	ReadyInterval time.Duration `yaml:"ready_interval" env:"BENCH_CLUSTER_READY_INTERVAL"`
}

// ReportConfig holds result publishing configuration.
type ReportConfig struct {
	Formats   []string `yaml:"formats" env:"BENCH_REPORT_FORMATS"`
	OutputDir string   `yaml:"output_dir" env:"BENCH_REPORT_OUTPUT_DIR"`
	// StoreResults indexes the final report into the target cluster.
	StoreResults bool   `yaml:"store_results" env:"BENCH_REPORT_STORE_RESULTS"`
	ResultsIndex string `yaml:"results_index" env:"BENCH_REPORT_RESULTS_INDEX"`
	// Outputs are default streaming output specs ("console", "json=file").
	Outputs []string `yaml:"outputs" env:"BENCH_REPORT_OUTPUTS"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"BENCH_LOG_LEVEL"`
	Format     string `yaml:"format" env:"BENCH_LOG_FORMAT"`
	Output     string `yaml:"output" env:"BENCH_LOG_OUTPUT"`
	FilePath   string `yaml:"file_path" env:"BENCH_LOG_FILE_PATH"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"BENCH_LOG_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"BENCH_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"BENCH_LOG_MAX_AGE_DAYS"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   false,
		},
		Coordinator: CoordinatorConfig{
			HeartbeatInterval: 5 * time.Second,
			HeartbeatTimeout:  15 * time.Second,
			MaxWorkers:        100,
			SampleQueueSize:   1000,
		},
		Worker: WorkerConfig{
			CoordinatorAddr:        "localhost:8080",
			Slots:                  8,
			Labels:                 make(map[string]string),
			ResultBatchSize:        500,
			ResultFlushInterval:    time.Second,
			MaxConsecutiveFailures: 10,
		},
		Cluster: ClusterConfig{
			Hosts:           []string{"http://localhost:9200"},
			Timeout:         60 * time.Second,
			MaxConnsPerHost: 128,
			ReadyAttempts:   40,
			ReadyInterval:   3 * time.Second,
		},
		Report: ReportConfig{
			Formats:      []string{"console"},
			OutputDir:    "benchmark-results",
			StoreResults: false,
			ResultsIndex: "benchmark-results",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "logs/benchmark-engine.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	cmdArgs    map[string]string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "BENCH_",
		cmdArgs:   make(map[string]string),
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the prefix for environment variables.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithCmdArgs sets command-line arguments for configuration override.
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < command-line flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if err := l.applyCmdOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	return l.applyEnvToStruct(reflect.ValueOf(cfg).Elem())
}

// applyEnvToStruct recursively applies environment variables to struct fields.
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// Handle nested structs
		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

// applyCmdOverrides applies command-line argument overrides to the configuration.
func (l *Loader) applyCmdOverrides(cfg *Config) error {
	for key, value := range l.cmdArgs {
		if err := l.setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("failed to set config value %s: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a configuration value by dot-notation path.
func (l *Loader) setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		// Convert to title case for struct field lookup
		fieldName := strings.Title(strings.ReplaceAll(part, "_", ""))

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName) || strings.EqualFold(name, part)
		})

		if !field.IsValid() {
			return fmt.Errorf("unknown config path: %s", path)
		}

		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}

		if field.Kind() != reflect.Struct {
			return fmt.Errorf("expected %s to be a struct, got %s", part, field.Kind())
		}
		v = field
	}

	return nil
}

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer: %w", err)
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		// Handle string slices (comma-separated)
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		} else {
			return fmt.Errorf("unsupported slice element type: %s", field.Type().Elem().Kind())
		}

	case reflect.Map:
		// Handle string->string maps (key=value,key=value format)
		if field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.String {
			m := make(map[string]string)
			pairs := strings.Split(value, ",")
			for _, pair := range pairs {
				kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
				if len(kv) == 2 {
					m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
				}
			}
			field.Set(reflect.ValueOf(m))
		} else {
			return fmt.Errorf("unsupported map type")
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses a YAML configuration from bytes.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file path.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := c.Serialize()
	clone, _ := ParseConfig(data)
	return clone
}
