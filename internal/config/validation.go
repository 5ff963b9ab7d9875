package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// addError adds a validation error.
func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate validates the entire configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateServerConfig(&cfg.Server)
	v.validateCoordinatorConfig(&cfg.Coordinator)
	v.validateWorkerConfig(&cfg.Worker)
	v.validateClusterConfig(&cfg.Cluster)
	v.validateReportConfig(&cfg.Report)
	v.validateLoggingConfig(&cfg.Logging)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// validateServerConfig validates the HTTP server configuration.
func (v *Validator) validateServerConfig(cfg *ServerConfig) {
	if cfg.Address == "" {
		v.addError("server.address", "address is required")
	} else if !isValidAddress(cfg.Address) {
		v.addError("server.address", "invalid address format, expected host:port or :port")
	}

	if cfg.ReadTimeout < 0 {
		v.addError("server.read_timeout", "read timeout must be non-negative")
	}
	if cfg.WriteTimeout < 0 {
		v.addError("server.write_timeout", "write timeout must be non-negative")
	}
	if cfg.ReadTimeout > 0 && cfg.ReadTimeout < time.Second {
		v.addError("server.read_timeout", "read timeout should be at least 1 second")
	}
	if cfg.WriteTimeout > 0 && cfg.WriteTimeout < time.Second {
		v.addError("server.write_timeout", "write timeout should be at least 1 second")
	}
}

// validateCoordinatorConfig validates the coordinator configuration.
func (v *Validator) validateCoordinatorConfig(cfg *CoordinatorConfig) {
	if cfg.HeartbeatInterval <= 0 {
		v.addError("coordinator.heartbeat_interval", "heartbeat interval must be positive")
	}
	if cfg.HeartbeatTimeout <= 0 {
		v.addError("coordinator.heartbeat_timeout", "heartbeat timeout must be positive")
	}
	// Timeout below the interval would mark every worker stale.
	if cfg.HeartbeatTimeout > 0 && cfg.HeartbeatInterval > 0 &&
		cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		v.addError("coordinator.heartbeat_timeout", "heartbeat timeout should be greater than heartbeat interval")
	}

	if cfg.MaxWorkers < 0 {
		v.addError("coordinator.max_workers", "max workers must be non-negative")
	}
	if cfg.SampleQueueSize < 0 {
		v.addError("coordinator.sample_queue_size", "sample queue size must be non-negative")
	}
}

// validateWorkerConfig validates the worker configuration.
func (v *Validator) validateWorkerConfig(cfg *WorkerConfig) {
	if cfg.Slots < 0 {
		v.addError("worker.slots", "slots must be non-negative")
	}

	if cfg.CoordinatorAddr != "" && !isValidAddress(cfg.CoordinatorAddr) {
		v.addError("worker.coordinator_addr", "invalid coordinator address format, expected host:port")
	}

	if cfg.ResultBatchSize <= 0 {
		v.addError("worker.result_batch_size", "result batch size must be positive")
	}
	if cfg.ResultFlushInterval <= 0 {
		v.addError("worker.result_flush_interval", "result flush interval must be positive")
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		v.addError("worker.max_consecutive_failures", "max consecutive failures must be positive")
	}
}

// validateClusterConfig validates the target cluster configuration.
func (v *Validator) validateClusterConfig(cfg *ClusterConfig) {
	if len(cfg.Hosts) == 0 {
		v.addError("cluster.hosts", "at least one target host is required")
	}
	for _, host := range cfg.Hosts {
		u, err := url.Parse(host)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			v.addError("cluster.hosts", fmt.Sprintf("invalid host %q, expected http(s)://host:port", host))
		}
	}

	if cfg.Timeout <= 0 {
		v.addError("cluster.timeout", "timeout must be positive")
	}
	if cfg.MaxConnsPerHost < 0 {
		v.addError("cluster.max_conns_per_host", "max connections per host must be non-negative")
	}
	if cfg.ReadyAttempts <= 0 {
		v.addError("cluster.ready_attempts", "ready attempts must be positive")
	}
	if cfg.ReadyInterval <= 0 {
		v.addError("cluster.ready_interval", "ready interval must be positive")
	}
	// Password auth without a username cannot be sent.
	if cfg.Password != "" && cfg.Username == "" {
		v.addError("cluster.username", "username is required when a password is set")
	}
}

// validateReportConfig validates the report configuration.
func (v *Validator) validateReportConfig(cfg *ReportConfig) {
	validFormats := map[string]bool{
		"console": true,
		"json":    true,
		"csv":     true,
	}
	for _, format := range cfg.Formats {
		if !validFormats[strings.ToLower(format)] {
			v.addError("report.formats", fmt.Sprintf("invalid format '%s', must be one of: console, json, csv", format))
		}
	}

	if cfg.StoreResults && cfg.ResultsIndex == "" {
		v.addError("report.results_index", "results index is required when store_results is enabled")
	}
}

// validateLoggingConfig validates the logging configuration.
func (v *Validator) validateLoggingConfig(cfg *LoggingConfig) {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if cfg.Level == "" {
		v.addError("logging.level", "log level is required")
	} else if !validLevels[strings.ToLower(cfg.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error, fatal", cfg.Level))
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if cfg.Format == "" {
		v.addError("logging.format", "log format is required")
	} else if !validFormats[strings.ToLower(cfg.Format)] {
		v.addError("logging.format", fmt.Sprintf("invalid log format '%s', must be one of: json, console", cfg.Format))
	}

	if cfg.MaxSizeMB < 0 {
		v.addError("logging.max_size_mb", "max size must be non-negative")
	}
	if cfg.MaxBackups < 0 {
		v.addError("logging.max_backups", "max backups must be non-negative")
	}
	if cfg.MaxAgeDays < 0 {
		v.addError("logging.max_age_days", "max age must be non-negative")
	}
}

// isValidAddress checks if the address is a valid host:port format.
func isValidAddress(addr string) bool {
	if addr == "" {
		return false
	}

	// Handle :port format
	if strings.HasPrefix(addr, ":") {
		port := strings.TrimPrefix(addr, ":")
		if port == "" {
			return false
		}
		_, err := net.LookupPort("tcp", port)
		return err == nil
	}

	// Handle host:port format
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}

	if port == "" {
		return false
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return false
	}

	// Host can be empty (meaning all interfaces), an IP, or a hostname
	if host != "" {
		if ip := net.ParseIP(host); ip == nil {
			if !isValidHostname(host) {
				return false
			}
		}
	}

	return true
}

// isValidHostname performs basic hostname validation.
func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}

	labels := strings.Split(hostname, ".")
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		// Labels must start and end with alphanumeric
		if !isAlphanumeric(label[0]) || !isAlphanumeric(label[len(label)-1]) {
			return false
		}
		// Labels can contain alphanumeric and hyphens
		for _, c := range label {
			if !isAlphanumeric(byte(c)) && c != '-' {
				return false
			}
		}
	}

	return true
}

// isAlphanumeric checks if a byte is alphanumeric.
func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Validate validates the configuration and returns any errors.
// This is a convenience method on Config.
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}

// MustValidate validates the configuration and panics if validation fails.
// This is useful for startup validation.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("configuration validation failed: %v", err))
	}
}

// LoadAndValidate loads configuration from a file and validates it.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Schema represents a configuration schema for documentation and validation.
type Schema struct {
	Fields []FieldSchema
}

// FieldSchema describes a configuration field.
type FieldSchema struct {
	Path        string
	Type        string
	Required    bool
	Default     string
	Description string
	EnvVar      string
	Constraints []string
}

// GetSchema returns the configuration schema.
func GetSchema() *Schema {
	return &Schema{
		Fields: []FieldSchema{
			{Path: "server.address", Type: "string", Required: true, Default: ":8080", Description: "HTTP server listen address", EnvVar: "BENCH_SERVER_ADDRESS", Constraints: []string{"valid host:port format"}},
			{Path: "server.read_timeout", Type: "duration", Required: false, Default: "30s", Description: "HTTP read timeout", EnvVar: "BENCH_SERVER_READ_TIMEOUT", Constraints: []string{"non-negative", "at least 1s if set"}},
			{Path: "server.write_timeout", Type: "duration", Required: false, Default: "30s", Description: "HTTP write timeout", EnvVar: "BENCH_SERVER_WRITE_TIMEOUT", Constraints: []string{"non-negative", "at least 1s if set"}},
			{Path: "server.enable_cors", Type: "bool", Required: false, Default: "false", Description: "Enable CORS", EnvVar: "BENCH_SERVER_ENABLE_CORS"},
			{Path: "coordinator.heartbeat_interval", Type: "duration", Required: true, Default: "5s", Description: "Worker heartbeat interval", EnvVar: "BENCH_COORDINATOR_HEARTBEAT_INTERVAL", Constraints: []string{"positive"}},
			{Path: "coordinator.heartbeat_timeout", Type: "duration", Required: true, Default: "15s", Description: "Worker heartbeat timeout", EnvVar: "BENCH_COORDINATOR_HEARTBEAT_TIMEOUT", Constraints: []string{"positive", "greater than heartbeat_interval"}},
			{Path: "coordinator.max_workers", Type: "int", Required: false, Default: "100", Description: "Maximum number of workers", EnvVar: "BENCH_COORDINATOR_MAX_WORKERS", Constraints: []string{"non-negative"}},
			{Path: "coordinator.sample_queue_size", Type: "int", Required: false, Default: "1000", Description: "Sample channel buffer size", EnvVar: "BENCH_COORDINATOR_SAMPLE_QUEUE_SIZE", Constraints: []string{"non-negative"}},
			{Path: "worker.coordinator_addr", Type: "string", Required: false, Default: "localhost:8080", Description: "Coordinator address", EnvVar: "BENCH_WORKER_COORDINATOR_ADDR", Constraints: []string{"valid host:port format"}},
			{Path: "worker.slots", Type: "int", Required: false, Default: "8", Description: "Client slots offered by this worker", EnvVar: "BENCH_WORKER_SLOTS", Constraints: []string{"non-negative"}},
			{Path: "worker.result_batch_size", Type: "int", Required: false, Default: "500", Description: "Samples per result message", EnvVar: "BENCH_WORKER_RESULT_BATCH_SIZE", Constraints: []string{"positive"}},
			{Path: "worker.result_flush_interval", Type: "duration", Required: false, Default: "1s", Description: "Result ship interval", EnvVar: "BENCH_WORKER_RESULT_FLUSH_INTERVAL", Constraints: []string{"positive"}},
			{Path: "worker.max_consecutive_failures", Type: "int", Required: false, Default: "10", Description: "Transport errors in a row before a client aborts", EnvVar: "BENCH_WORKER_MAX_CONSECUTIVE_FAILURES", Constraints: []string{"positive"}},
			{Path: "cluster.hosts", Type: "[]string", Required: true, Default: "http://localhost:9200", Description: "Target cluster endpoints", EnvVar: "BENCH_CLUSTER_HOSTS", Constraints: []string{"http(s)://host:port"}},
			{Path: "cluster.timeout", Type: "duration", Required: false, Default: "60s", Description: "Request timeout against the cluster", EnvVar: "BENCH_CLUSTER_TIMEOUT", Constraints: []string{"positive"}},
			{Path: "cluster.max_conns_per_host", Type: "int", Required: false, Default: "128", Description: "Connection pool size per host", EnvVar: "BENCH_CLUSTER_MAX_CONNS_PER_HOST", Constraints: []string{"non-negative"}},
			{Path: "cluster.ready_attempts", Type: "int", Required: false, Default: "40", Description: "Readiness probe attempts", EnvVar: "BENCH_CLUSTER_READY_ATTEMPTS", Constraints: []string{"positive"}},
			{Path: "cluster.ready_interval", Type: "duration", Required: false, Default: "3s", Description: "Readiness probe interval", EnvVar: "BENCH_CLUSTER_READY_INTERVAL", Constraints: []string{"positive"}},
			{Path: "report.formats", Type: "[]string", Required: false, Default: "console", Description: "Report formats", EnvVar: "BENCH_REPORT_FORMATS", Constraints: []string{"subset of: console, json, csv"}},
			{Path: "report.output_dir", Type: "string", Required: false, Default: "benchmark-results", Description: "Report output directory", EnvVar: "BENCH_REPORT_OUTPUT_DIR"},
			{Path: "report.store_results", Type: "bool", Required: false, Default: "false", Description: "Index the final report into the target cluster", EnvVar: "BENCH_REPORT_STORE_RESULTS"},
			{Path: "report.results_index", Type: "string", Required: false, Default: "benchmark-results", Description: "Results index name", EnvVar: "BENCH_REPORT_RESULTS_INDEX", Constraints: []string{"required when store_results"}},
			{Path: "logging.level", Type: "string", Required: true, Default: "info", Description: "Log level", EnvVar: "BENCH_LOG_LEVEL", Constraints: []string{"one of: debug, info, warn, error, fatal"}},
			{Path: "logging.format", Type: "string", Required: true, Default: "json", Description: "Log format", EnvVar: "BENCH_LOG_FORMAT", Constraints: []string{"one of: json, console"}},
			{Path: "logging.output", Type: "string", Required: false, Default: "stdout", Description: "Log output", EnvVar: "BENCH_LOG_OUTPUT", Constraints: []string{"stdout, stderr, or file path"}},
		},
	}
}
