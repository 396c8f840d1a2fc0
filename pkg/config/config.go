package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/orgai/backend/pkg/apperr"
)

type Config struct {
	Server        ServerConfig
	Organization  OrganizationConfig
	LLM           LLMConfig
	Policy        PolicyConfig
	Database      DatabaseConfig
	SQLGate       SQLGateConfig
	Documentation DocumentationConfig
	History       HistoryConfig
	Redis         RedisConfig
	SQLite        SQLiteConfig
	RateLimit     RateLimitConfig
	Logging       LoggingConfig
}

type ServerConfig struct {
	Host                 string
	Port                 int
	ReadTimeout          int
	WriteTimeout         int
	BodyLimit            int
	AllowedOrigins       []string
	IsDevelopment        bool
	MaxPromptLength      int
	CompressionThreshold int
}

type OrganizationConfig struct {
	Name        string
	Description string
	Website     string
}

type LLMConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float32
	TopP              float32
	MaxTokens         int
	TimeoutSec        int
	MinResponseLength int
}

type PolicyConfig struct {
	Enabled      bool
	Source       string
	CacheFile    string
	RefreshHours int
}

type DatabaseTarget struct {
	Name string
	DSN  string
}

type DatabaseConfig struct {
	Enabled          bool
	Driver           string
	ConnectionString string
	Databases        []DatabaseTarget
	ExcludedSchemas  []string
	SchemaTTLMinutes int
	ConnectTimeout   int
}

type SQLGateConfig struct {
	Enabled          bool
	MaxRows          int
	TimeoutSec       int
	RestrictedTables []string
	AllowedTables    []string
}

type DocumentationConfig struct {
	Enabled      bool
	Dir          string
	FileTypes    []string
	ExcludedDirs []string
}

type HistoryConfig struct {
	Backend       string
	MaxEntries    int
	RecentEntries int
	SummaryChars  int
	TTLHours      int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type SQLiteConfig struct {
	Path string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads configuration from file (when path is empty, config.yaml is
// searched in the usual locations), ORGAI_* environment variables, and
// defaults, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/orgai")
	}

	v.SetEnvPrefix("ORGAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, apperr.Configuration("read config", fmt.Errorf("failed to read config file: %w", err))
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, apperr.Configuration("decode config", fmt.Errorf("failed to unmarshal config: %w", err))
	}

	if err := config.Validate(); err != nil {
		return nil, apperr.Configuration("validate config", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 330)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.isDevelopment", false)
	v.SetDefault("server.maxPromptLength", 8000)
	v.SetDefault("server.compressionThreshold", 1000)

	v.SetDefault("organization.name", "OrgAI")
	v.SetDefault("organization.description", "Internal assistant for policies, data, and documentation")

	v.SetDefault("llm.baseURL", "http://localhost:11434/v1")
	v.SetDefault("llm.apiKey", "ollama")
	v.SetDefault("llm.model", "qwen2.5-coder:latest")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.topP", 0.9)
	v.SetDefault("llm.maxTokens", 2048)
	v.SetDefault("llm.timeoutSec", 300)
	v.SetDefault("llm.minResponseLength", 10)

	v.SetDefault("policy.enabled", false)
	v.SetDefault("policy.cacheFile", "policies.json")
	v.SetDefault("policy.refreshHours", 24)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "sqlserver")
	v.SetDefault("database.excludedSchemas", []string{"sys", "INFORMATION_SCHEMA", "pg_catalog", "information_schema"})
	v.SetDefault("database.schemaTTLMinutes", 60)
	v.SetDefault("database.connectTimeout", 30)

	v.SetDefault("sqlGate.enabled", false)
	v.SetDefault("sqlGate.maxRows", 100)
	v.SetDefault("sqlGate.timeoutSec", 30)

	v.SetDefault("documentation.enabled", false)
	v.SetDefault("documentation.dir", "./docs")
	v.SetDefault("documentation.fileTypes", []string{".md", ".txt", ".rst", ".html"})
	v.SetDefault("documentation.excludedDirs", []string{".git", "node_modules", "__pycache__", "venv"})

	v.SetDefault("history.backend", "memory")
	v.SetDefault("history.maxEntries", 10)
	v.SetDefault("history.recentEntries", 3)
	v.SetDefault("history.summaryChars", 100)
	v.SetDefault("history.ttlHours", 24)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("sqlite.path", "./data/orgai.db")

	v.SetDefault("rateLimit.requestsPerMinute", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}

var supportedDrivers = map[string]bool{"sqlserver": true, "postgres": true, "sqlite3": true}

// Validate checks settings once at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.CompressionThreshold < 0 {
		return fmt.Errorf("server.compressionThreshold must not be negative")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.TimeoutSec <= 0 {
		return fmt.Errorf("llm.timeoutSec must be positive, got %d", c.LLM.TimeoutSec)
	}
	if c.Policy.Enabled {
		if c.Policy.Source == "" {
			return fmt.Errorf("policy.source is required when policy.enabled is true")
		}
		if c.Policy.CacheFile == "" {
			return fmt.Errorf("policy.cacheFile is required when policy.enabled is true")
		}
		if c.Policy.RefreshHours <= 0 {
			return fmt.Errorf("policy.refreshHours must be positive, got %d", c.Policy.RefreshHours)
		}
	}
	if c.Database.Enabled {
		if !supportedDrivers[c.Database.Driver] {
			return fmt.Errorf("database.driver must be one of sqlserver, postgres, sqlite3, got %q", c.Database.Driver)
		}
		if len(c.Database.Databases) == 0 {
			return fmt.Errorf("database.databases must list at least one database when database.enabled is true")
		}
		for i, db := range c.Database.Databases {
			if db.Name == "" {
				return fmt.Errorf("database.databases[%d].name is required", i)
			}
		}
		if c.Database.SchemaTTLMinutes <= 0 {
			return fmt.Errorf("database.schemaTTLMinutes must be positive, got %d", c.Database.SchemaTTLMinutes)
		}
	}
	if c.SQLGate.Enabled && c.SQLGate.MaxRows <= 0 {
		return fmt.Errorf("sqlGate.maxRows must be positive, got %d", c.SQLGate.MaxRows)
	}
	if c.Documentation.Enabled {
		if c.Documentation.Dir == "" {
			return fmt.Errorf("documentation.dir is required when documentation.enabled is true")
		}
		if len(c.Documentation.FileTypes) == 0 {
			return fmt.Errorf("documentation.fileTypes must not be empty")
		}
	}
	switch c.History.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf(`history.backend must be "memory" or "redis", got %q`, c.History.Backend)
	}
	if c.History.MaxEntries <= 0 {
		return fmt.Errorf("history.maxEntries must be positive, got %d", c.History.MaxEntries)
	}
	if c.History.RecentEntries < 0 || c.History.RecentEntries > c.History.MaxEntries {
		return fmt.Errorf("history.recentEntries must be in 0..%d, got %d", c.History.MaxEntries, c.History.RecentEntries)
	}
	return nil
}

// DSN returns the connection string for a configured database target. A
// target without its own DSN inherits the shared connection string; for SQL
// Server the database name is appended the way ODBC-style strings expect.
func (c DatabaseConfig) DSN(target DatabaseTarget) string {
	if target.DSN != "" {
		return target.DSN
	}
	if c.Driver == "sqlserver" && c.ConnectionString != "" {
		return strings.TrimSuffix(c.ConnectionString, ";") + ";database=" + target.Name
	}
	return c.ConnectionString
}

func (c DatabaseConfig) SchemaTTL() time.Duration {
	return time.Duration(c.SchemaTTLMinutes) * time.Minute
}

func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c PolicyConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshHours) * time.Hour
}

func (c SQLGateConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
