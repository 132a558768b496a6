package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Gemini  GeminiConfig  `mapstructure:"gemini"`
	Session SessionConfig `mapstructure:"session"`
	Prefs   PrefsConfig   `mapstructure:"prefs"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

type GeminiConfig struct {
	// Provider is "gemini" or "passthrough".
	Provider string        `mapstructure:"provider"`
	BaseURL  string        `mapstructure:"base_url"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	JanitorSpec   string        `mapstructure:"janitor_spec"`
	PreviewSize   int           `mapstructure:"preview_size"`
	DefaultColor  string        `mapstructure:"default_color"`
	RemovalBudget time.Duration `mapstructure:"removal_budget"`
}

type PrefsConfig struct {
	// Backend is "memory", "file" or "redis".
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// Load 从 YAML 文件加载配置，环境变量 BGSTUDIO_* 覆盖文件中的值
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	bindEnv(v)

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return unmarshal(v)
}

// New 使用默认配置路径加载配置，文件不存在时退回默认值和环境变量
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		return Default()
	}
	return cfg
}

// Default 只由默认值和环境变量组成的配置
func Default() *Config {
	v := viper.New()
	bindEnv(v)
	setDefaults(v)
	cfg, err := unmarshal(v)
	if err != nil {
		// 默认值本身不会解析失败
		panic(err)
	}
	return cfg
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("bgstudio")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Google 工具链惯用的变量名
	_ = v.BindEnv("gemini.api_key", "BGSTUDIO_GEMINI_API_KEY", "GEMINI_API_KEY", "API_KEY")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", time.Duration(0))

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("upload.max_size", 10*1024*1024)
	v.SetDefault("upload.allowed_types", []string{"image/png", "image/jpeg", "image/webp"})

	v.SetDefault("gemini.provider", "gemini")
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("gemini.model", "gemini-2.5-flash-image-preview")
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.timeout", 90*time.Second)

	v.SetDefault("session.idle_timeout", 30*time.Minute)
	v.SetDefault("session.janitor_spec", "@every 1m")
	v.SetDefault("session.preview_size", 1024)
	v.SetDefault("session.default_color", "#FFFFFF")
	v.SetDefault("session.removal_budget", 2*time.Minute)

	v.SetDefault("prefs.backend", "file")
	v.SetDefault("prefs.path", "./data/prefs.json")
}
