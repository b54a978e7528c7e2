package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kode4food/wireflow/pkg/log"
)

type (
	// Settings holds every option a host can supply to the runtime
	Settings struct {
		// Persistence
		FlowFile string `yaml:"flowFile"`
		UserDir  string `yaml:"userDir"`
		// NodesDir is accepted for settings-file compatibility. Node types
		// are registered in process, so nothing is loaded from it
		NodesDir string  `yaml:"nodesDir"`
		Storage  Storage `yaml:"storage"`

		// Logging
		Logging Logging `yaml:"logging"`

		// HTTP
		UIHost        string    `yaml:"uiHost"`
		UIPort        int       `yaml:"uiPort"`
		HTTPAdminRoot RootPath  `yaml:"httpAdminRoot"`
		HTTPNodeRoot  RootPath  `yaml:"httpNodeRoot"`
		DisableEditor bool      `yaml:"disableEditor"`
		AdminAuth     AdminAuth `yaml:"adminAuth"`

		// Editor
		PaletteCategories []string       `yaml:"paletteCategories"`
		EditorTheme       map[string]any `yaml:"editorTheme"`

		// Runtime
		FunctionGlobalContext map[string]any `yaml:"functionGlobalContext"`
		ContextStorage        ContextStorage `yaml:"contextStorage"`
		Runtime               Runtime        `yaml:"runtime"`
	}

	// Logging configures the process-wide logger
	Logging struct {
		Console ConsoleLogging `yaml:"console"`
	}

	// ConsoleLogging sets the severity threshold and the AUDIT and METRIC
	// channel toggles
	ConsoleLogging struct {
		Level   string `yaml:"level"`
		Metrics bool   `yaml:"metrics"`
		Audit   bool   `yaml:"audit"`
	}

	// Storage selects the bucket that holds the flow file
	Storage struct {
		BucketURL string `yaml:"bucketURL"`
	}

	// ContextStorage selects the backend for node, flow, and global context
	ContextStorage struct {
		Module   string `yaml:"module"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		Prefix   string `yaml:"prefix"`
		DB       int    `yaml:"db"`
	}

	// Runtime bounds message dispatch and node teardown. StopTimeout is
	// how long a stop waits for in-flight messages before closing the
	// remaining nodes anyway
	Runtime struct {
		MaxMessageHops   int           `yaml:"maxMessageHops"`
		NodeCloseTimeout time.Duration `yaml:"nodeCloseTimeout"`
		StopTimeout      time.Duration `yaml:"stopTimeout"`
	}
)

const (
	DefaultUIHost           = "0.0.0.0"
	DefaultUIPort           = 1880
	MaxTCPPort              = 65535
	DefaultFlowFile         = "flows.json"
	DefaultUserDirName      = ".wireflow"
	DefaultLogLevel         = "info"
	DefaultMaxMessageHops   = 10000
	MaxMessageHops          = 10_000_000
	DefaultNodeCloseTimeout = 15 * time.Second
	DefaultStopTimeout      = 10 * time.Second
	DefaultSessionExpiry    = 7 * 24 * time.Hour

	ContextMemory = "memory"
	ContextRedis  = "redis"

	DefaultRedisEndpoint = "localhost:6379"
	DefaultRedisPrefix   = "wireflow"
)

var (
	ErrInvalidSettings       = errors.New("invalid settings")
	ErrInvalidPort           = errors.New("invalid UI port")
	ErrInvalidLogLevel       = errors.New("invalid log level")
	ErrInvalidContextModule  = errors.New("invalid context storage module")
	ErrInvalidMaxHops        = errors.New("max message hops must be positive")
	ErrInvalidCloseTimeout   = errors.New("node close timeout must be positive")
	ErrInvalidStopTimeout    = errors.New("stop timeout must be positive")
	ErrInvalidSessionExpiry  = errors.New("session expiry must be positive")
	ErrInvalidFlowFile       = errors.New("flow file must be a relative path")
	ErrMissingUserDir        = errors.New("user directory is required")
	ErrInvalidAdminUser      = errors.New("invalid admin user")
	ErrInvalidAdminAuthType  = errors.New("invalid admin auth type")
	ErrInvalidPermission     = errors.New("invalid permission")
	ErrInvalidRedisDatabase  = errors.New("invalid redis database")
	ErrConflictingAuthConfig = errors.New(
		"admin auth cannot combine users with a validate function",
	)
)

// NewDefaultSettings creates settings with sensible defaults: both HTTP
// surfaces mounted at "/", an open admin API, in-memory context, and the
// flow file stored under the user directory
func NewDefaultSettings() *Settings {
	return &Settings{
		FlowFile: DefaultFlowFile,
		UserDir:  defaultUserDir(),
		Logging: Logging{
			Console: ConsoleLogging{Level: DefaultLogLevel},
		},
		UIHost:        DefaultUIHost,
		UIPort:        DefaultUIPort,
		HTTPAdminRoot: Root("/"),
		HTTPNodeRoot:  Root("/"),
		ContextStorage: ContextStorage{
			Module: ContextMemory,
			Addr:   DefaultRedisEndpoint,
			Prefix: DefaultRedisPrefix,
		},
		Runtime: Runtime{
			MaxMessageHops:   DefaultMaxMessageHops,
			NodeCloseTimeout: DefaultNodeCloseTimeout,
			StopTimeout:      DefaultStopTimeout,
		},
	}
}

// LoadFromEnv populates settings from environment variables. Returns an
// error if any env var cannot be parsed
func (s *Settings) LoadFromEnv() error {
	if host := os.Getenv("UI_HOST"); host != "" {
		s.UIHost = host
	}
	if dir := os.Getenv("USER_DIR"); dir != "" {
		s.UserDir = dir
	}
	if file := os.Getenv("FLOW_FILE"); file != "" {
		s.FlowFile = file
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		s.Logging.Console.Level = lvl
	}
	if url := os.Getenv("STORAGE_BUCKET_URL"); url != "" {
		s.Storage.BucketURL = url
	}
	if mod := os.Getenv("CONTEXT_STORAGE"); mod != "" {
		s.ContextStorage.Module = mod
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		s.ContextStorage.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		s.ContextStorage.Password = password
	}
	if prefix := os.Getenv("REDIS_PREFIX"); prefix != "" {
		s.ContextStorage.Prefix = prefix
	}
	if root := os.Getenv("HTTP_ADMIN_ROOT"); root != "" {
		s.HTTPAdminRoot = ParseRootPath(root)
	}
	if root := os.Getenv("HTTP_NODE_ROOT"); root != "" {
		s.HTTPNodeRoot = ParseRootPath(root)
	}
	if err := loadEnvBool("DISABLE_EDITOR", &s.DisableEditor); err != nil {
		return err
	}

	if err := loadEnvInt("UI_PORT", &s.UIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"REDIS_DB", &s.ContextStorage.DB, -1, 15,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"MAX_MESSAGE_HOPS", &s.Runtime.MaxMessageHops, 0, MaxMessageHops,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"NODE_CLOSE_TIMEOUT", &s.Runtime.NodeCloseTimeout,
	); err != nil {
		return err
	}
	return loadEnvDuration("STOP_TIMEOUT", &s.Runtime.StopTimeout)
}

// Validate checks that all settings are usable. Every failure wraps
// ErrInvalidSettings
func (s *Settings) Validate() error {
	if err := s.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return nil
}

func (s *Settings) validate() error {
	if s.UIPort <= 0 || s.UIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, s.UIPort)
	}

	if s.UserDir == "" {
		return ErrMissingUserDir
	}

	if s.FlowFile == "" || filepath.IsAbs(s.FlowFile) ||
		strings.HasPrefix(filepath.Clean(s.FlowFile), "..") {
		return fmt.Errorf("%w: %q", ErrInvalidFlowFile, s.FlowFile)
	}

	if _, err := s.LogLevel(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLogLevel, err)
	}

	if err := s.HTTPAdminRoot.Validate(); err != nil {
		return err
	}
	if err := s.HTTPNodeRoot.Validate(); err != nil {
		return err
	}

	switch s.ContextStorage.Module {
	case ContextMemory:
	case ContextRedis:
		if s.ContextStorage.DB < 0 || s.ContextStorage.DB > 15 {
			return fmt.Errorf("%w: %d",
				ErrInvalidRedisDatabase, s.ContextStorage.DB)
		}
	default:
		return fmt.Errorf("%w: %q",
			ErrInvalidContextModule, s.ContextStorage.Module)
	}

	if s.Runtime.MaxMessageHops <= 0 {
		return ErrInvalidMaxHops
	}
	if s.Runtime.NodeCloseTimeout <= 0 {
		return ErrInvalidCloseTimeout
	}
	if s.Runtime.StopTimeout <= 0 {
		return ErrInvalidStopTimeout
	}

	return s.AdminAuth.Validate()
}

// LogLevel parses the configured console threshold
func (s *Settings) LogLevel() (log.Level, error) {
	return log.ParseLevel(s.Logging.Console.Level)
}

// LogOptions builds logger options from the console logging settings
func (s *Settings) LogOptions() log.Options {
	lvl, err := s.LogLevel()
	if err != nil {
		lvl = log.LevelInfo
	}
	return log.Options{
		Level:   lvl,
		Audit:   s.Logging.Console.Audit,
		Metrics: s.Logging.Console.Metrics,
	}
}

// BucketURL returns the storage bucket holding the flow file. It defaults
// to a file bucket rooted at the user directory
func (s *Settings) BucketURL() string {
	if s.Storage.BucketURL != "" {
		return s.Storage.BucketURL
	}
	dir := s.UserDir
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return "file://" + filepath.ToSlash(dir)
}

// Addr returns the host:port the CLI listens on
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.UIHost, s.UIPort)
}

// GlobalContext returns a copy of the functionGlobalContext values
func (s *Settings) GlobalContext() map[string]any {
	return maps.Clone(s.FunctionGlobalContext)
}

func defaultUserDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return DefaultUserDirName
	}
	return filepath.Join(home, DefaultUserDirName)
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

func loadEnvDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = d
	return nil
}

func loadEnvBool(key string, dst *bool) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = v
	return nil
}
