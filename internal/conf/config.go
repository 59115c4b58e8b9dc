// Package conf loads and validates engine settings.
package conf

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"github.com/studyquest/offline-engine/internal/errors"
)

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendSQLite = "sqlite"
)

// Queue storage drivers.
const (
	QueueDriverSQLite = "sqlite"
	QueueDriverMySQL  = "mysql"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// OFFLINE_ENGINE_CACHE_VERSION=v3.
const EnvPrefix = "OFFLINE_ENGINE"

// Settings is the complete engine configuration.
type Settings struct {
	Server    ServerSettings    `mapstructure:"server" yaml:"server"`
	Cache     CacheSettings     `mapstructure:"cache" yaml:"cache"`
	Shell     ShellSettings     `mapstructure:"shell" yaml:"shell"`
	Routes    RouteSettings     `mapstructure:"routes" yaml:"routes"`
	Fallback  FallbackSettings  `mapstructure:"fallback" yaml:"fallback"`
	Queue     QueueSettings     `mapstructure:"queue" yaml:"queue"`
	Push      PushSettings      `mapstructure:"push" yaml:"push"`
	MQTT      MQTTSettings      `mapstructure:"mqtt" yaml:"mqtt"`
	Log       LogSettings       `mapstructure:"log" yaml:"log"`
	Telemetry TelemetrySettings `mapstructure:"telemetry" yaml:"telemetry"`
}

// ServerSettings configures the interception server and the upstream origin.
type ServerSettings struct {
	Listen          string   `mapstructure:"listen" yaml:"listen"`
	Upstream        string   `mapstructure:"upstream" yaml:"upstream"`
	ExcludedSchemes []string `mapstructure:"excluded_schemes" yaml:"excluded_schemes"`
	ShutdownTimeout Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// CacheSettings names the versioned cache stores.
type CacheSettings struct {
	AppPrefix     string `mapstructure:"app_prefix" yaml:"app_prefix"`
	Version       string `mapstructure:"version" yaml:"version"`
	ShellName     string `mapstructure:"shell_name" yaml:"shell_name"`
	RuntimeName   string `mapstructure:"runtime_name" yaml:"runtime_name"`
	Backend       string `mapstructure:"backend" yaml:"backend"`
	MaxEntryBytes int64  `mapstructure:"max_entry_bytes" yaml:"max_entry_bytes"`
	MaxEntries    int    `mapstructure:"max_entries" yaml:"max_entries"`
}

// StoreName returns the versioned store name for a logical name, e.g.
// "studyquest-v2-shell".
func (c *CacheSettings) StoreName(logical string) string {
	if c.AppPrefix == "" {
		return c.Version + "-" + logical
	}
	return c.AppPrefix + "-" + c.Version + "-" + logical
}

// ShellStore returns the current version's shell store name.
func (c *CacheSettings) ShellStore() string { return c.StoreName(c.ShellName) }

// RuntimeStore returns the current version's runtime store name.
func (c *CacheSettings) RuntimeStore() string { return c.StoreName(c.RuntimeName) }

// CurrentStores lists every store the current version expects to keep.
func (c *CacheSettings) CurrentStores() []string {
	return []string{c.ShellStore(), c.RuntimeStore()}
}

// ShellSettings lists the bootstrap resources cached at install.
type ShellSettings struct {
	Resources   []string `mapstructure:"resources" yaml:"resources"`
	AppShell    string   `mapstructure:"app_shell" yaml:"app_shell"`
	OfflinePage string   `mapstructure:"offline_page" yaml:"offline_page"`
}

// RouteSettings feeds the route classifier.
type RouteSettings struct {
	APIBase         string              `mapstructure:"api_base" yaml:"api_base"`
	APIGroups       map[string][]string `mapstructure:"api_groups" yaml:"api_groups"`
	SPARoutes       []string            `mapstructure:"spa_routes" yaml:"spa_routes"`
	SPATemplates    []string            `mapstructure:"spa_templates" yaml:"spa_templates"`
	ImageExtensions []string            `mapstructure:"image_extensions" yaml:"image_extensions"`
}

// FallbackSettings optionally overrides the built-in fallback table.
type FallbackSettings struct {
	TableFile string `mapstructure:"table_file" yaml:"table_file"`
}

// QueueKind describes which mutating requests are queued under a kind.
type QueueKind struct {
	Method string `mapstructure:"method" yaml:"method"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// QueueSettings configures the durable sync queue.
type QueueSettings struct {
	Driver      string               `mapstructure:"driver" yaml:"driver"`
	DataDir     string               `mapstructure:"data_dir" yaml:"data_dir"`
	DSN         string               `mapstructure:"dsn" yaml:"dsn"`
	ReplayRate  float64              `mapstructure:"replay_rate" yaml:"replay_rate"`
	ReplayBurst int                  `mapstructure:"replay_burst" yaml:"replay_burst"`
	Kinds       map[string]QueueKind `mapstructure:"kinds" yaml:"kinds"`
}

// PushSettings configures push notification defaults and delivery.
type PushSettings struct {
	DefaultTitle string   `mapstructure:"default_title" yaml:"default_title"`
	DefaultBody  string   `mapstructure:"default_body" yaml:"default_body"`
	DefaultURL   string   `mapstructure:"default_url" yaml:"default_url"`
	NotifyURLs   []string `mapstructure:"notify_urls" yaml:"notify_urls"`
	Timeout      Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MQTTSettings configures the status event relay to an MQTT broker.
type MQTTSettings struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	Broker         string   `mapstructure:"broker" yaml:"broker"`
	ClientID       string   `mapstructure:"client_id" yaml:"client_id"`
	Username       string   `mapstructure:"username" yaml:"username"`
	Password       string   `mapstructure:"password" yaml:"password"`
	TopicPrefix    string   `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	QoS            int      `mapstructure:"qos" yaml:"qos"`
	Retain         bool     `mapstructure:"retain" yaml:"retain"`
	ConnectTimeout Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// LogSettings configures logging output.
type LogSettings struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// TelemetrySettings configures error reporting.
type TelemetrySettings struct {
	SentryDSN   string `mapstructure:"sentry_dsn" yaml:"sentry_dsn"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

var (
	settingsInstance *Settings
	settingsMu       sync.RWMutex
)

// GetSettings returns the loaded settings, or nil before Load.
func GetSettings() *Settings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settingsInstance
}

// SetSettings replaces the package-level settings.
func SetSettings(s *Settings) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	settingsInstance = s
}

// Load reads settings from path (or the default search paths when empty),
// applies environment overrides, validates and stores the result.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/offline-engine")
		v.AddConfigPath("/etc/offline-engine")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("path", path).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.New(fmt.Errorf("failed to decode settings: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	SetSettings(settings)
	return settings, nil
}

// Default returns the built-in settings without reading any file.
func Default() *Settings {
	v := viper.New()
	setDefaults(v)
	settings := &Settings{}
	// Defaults are static and always decode.
	_ = v.Unmarshal(settings, viper.DecodeHook(DurationDecodeHook()))
	return settings
}

// Validate rejects settings the engine cannot run with.
func (s *Settings) Validate() error {
	invalid := func(msg string, key string, val any) error {
		return errors.Newf("%s", msg).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("key", key).
			Context("value", val).
			Build()
	}

	if s.Cache.Version == "" {
		return invalid("cache version must not be empty", "cache.version", s.Cache.Version)
	}
	if s.Cache.ShellName == "" || s.Cache.RuntimeName == "" || s.Cache.ShellName == s.Cache.RuntimeName {
		return invalid("shell and runtime store names must be distinct and non-empty", "cache.shell_name", s.Cache.ShellName)
	}
	switch s.Cache.Backend {
	case CacheBackendMemory, CacheBackendSQLite:
	default:
		return invalid("unknown cache backend", "cache.backend", s.Cache.Backend)
	}
	switch s.Queue.Driver {
	case QueueDriverSQLite:
	case QueueDriverMySQL:
		if s.Queue.DSN == "" {
			return invalid("mysql queue driver requires a dsn", "queue.dsn", "")
		}
	default:
		return invalid("unknown queue driver", "queue.driver", s.Queue.Driver)
	}
	if s.Shell.AppShell == "" {
		return invalid("app shell path must not be empty", "shell.app_shell", "")
	}
	for _, tmpl := range s.Routes.SPATemplates {
		if !strings.HasPrefix(tmpl, "/") || !strings.Contains(tmpl, "{") {
			return invalid("spa template must be an absolute path with a {param} segment", "routes.spa_templates", tmpl)
		}
	}
	if s.MQTT.Enabled {
		if s.MQTT.Broker == "" {
			return invalid("mqtt relay requires a broker", "mqtt.broker", "")
		}
		if s.MQTT.QoS < 0 || s.MQTT.QoS > 2 {
			return invalid("mqtt qos must be 0, 1 or 2", "mqtt.qos", s.MQTT.QoS)
		}
	}
	for kind, k := range s.Queue.Kinds {
		if k.Path == "" {
			return invalid("queue kind requires a path", "queue.kinds."+kind+".path", "")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.upstream", "http://localhost:3000")
	v.SetDefault("server.excluded_schemes", []string{"chrome-extension", "data", "blob", "ws", "wss"})
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("cache.app_prefix", "studyquest")
	v.SetDefault("cache.version", "v1")
	v.SetDefault("cache.shell_name", "shell")
	v.SetDefault("cache.runtime_name", "runtime")
	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.max_entry_bytes", 10<<20)
	v.SetDefault("cache.max_entries", 0)

	v.SetDefault("shell.resources", []string{
		"/", "/index.html", "/offline.html", "/manifest.webmanifest",
		"/login", "/dashboard", "/quizzes", "/leaderboard",
		"/icons/icon-192.png", "/icons/icon-512.png",
	})
	v.SetDefault("shell.app_shell", "/index.html")
	v.SetDefault("shell.offline_page", "/offline.html")

	v.SetDefault("routes.api_base", "/api/")
	v.SetDefault("routes.api_groups", map[string][]string{
		"quiz-data":    {"/api/quiz", "/api/quizzes", "/api/questions"},
		"user-profile": {"/api/user", "/api/profile"},
		"dashboard":    {"/api/dashboard"},
		"reports":      {"/api/reports"},
		"achievements": {"/api/achievements"},
		"leaderboard":  {"/api/leaderboard"},
		"gamification": {"/api/gamification"},
		"ai-assistant": {"/api/ai"},
		"realtime":     {"/api/realtime"},
		"social":       {"/api/social", "/api/chat"},
		"analytics":    {"/api/analytics"},
		"diagnostics":  {"/api/diagnostics"},
	})
	v.SetDefault("routes.spa_routes", []string{"/login", "/register", "/dashboard", "/quizzes", "/leaderboard", "/profile"})
	v.SetDefault("routes.spa_templates", []string{"/quiz/{id}", "/results/{id}", "/review/{id}"})
	v.SetDefault("routes.image_extensions", []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".avif"})

	v.SetDefault("queue.driver", QueueDriverSQLite)
	v.SetDefault("queue.data_dir", "data")
	v.SetDefault("queue.replay_rate", 5.0)
	v.SetDefault("queue.replay_burst", 1)
	v.SetDefault("queue.kinds", map[string]any{
		"quiz-submission": map[string]any{"method": "POST", "path": "/api/quiz/submit"},
		"chat-message":    map[string]any{"method": "POST", "path": "/api/chat/messages"},
	})

	v.SetDefault("push.default_title", "StudyQuest")
	v.SetDefault("push.default_body", "You have a new notification")
	v.SetDefault("push.default_url", "/")
	v.SetDefault("push.timeout", (30 * time.Second).String())

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.client_id", "offline-engine")
	v.SetDefault("mqtt.topic_prefix", "offline-engine")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.connect_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("telemetry.environment", "production")
}
