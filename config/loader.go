// =============================================================================
// 📦 MediaFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 .env 文件 + YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithDotEnv(".env").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（进程环境优先于 .env）
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/mediaflow/providers"
	"github.com/BaSui01/mediaflow/transport"
)

// DefaultEnvPrefix 环境变量前缀，例如 MEDIAFLOW_PROVIDERS_BFL_API_KEY
const DefaultEnvPrefix = "MEDIAFLOW"

// Config 是 MediaFlow 的完整配置结构
type Config struct {
	Server    ServerConfig          `yaml:"server" env:"SERVER"`
	Log       LogConfig             `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig       `yaml:"telemetry" env:"TELEMETRY"`
	Redis     RedisConfig           `yaml:"redis" env:"REDIS"`
	Proxy     transport.ProxyConfig `yaml:"proxy" env:"PROXY"`
	Storage   StorageConfig         `yaml:"storage" env:"STORAGE"`
	Providers ProvidersConfig       `yaml:"providers" env:"PROVIDERS"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// MetricsPort 为 0 时不启动 metrics 服务
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个客户端 IP 的令牌桶，RPS 为 0 时关闭限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// MaxBodyBytes 入站请求体上限
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint   string        `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	Insecure       bool          `yaml:"insecure" env:"INSECURE"`
	ServiceName    string        `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate     float64       `yaml:"sample_rate" env:"SAMPLE_RATE"`
	MetricInterval time.Duration `yaml:"metric_interval" env:"METRIC_INTERVAL"`
}

// RedisConfig Redis 配置，用于转存 URL 缓存
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	KeyPrefix    string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	URLCacheTTL  time.Duration `yaml:"url_cache_ttl" env:"URL_CACHE_TTL"`
}

// StorageConfig S3 兼容对象存储配置。Bucket 为空时转存关闭。
type StorageConfig struct {
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	Region          string `yaml:"region" env:"REGION"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `yaml:"use_path_style" env:"USE_PATH_STYLE"`
	// PublicBaseURL 对外访问前缀（CDN 域名），为空时按 endpoint/bucket 推导
	PublicBaseURL string `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
	KeyPrefix     string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// Concurrency 单个结果内并发上传数
	Concurrency     int           `yaml:"concurrency" env:"CONCURRENCY"`
	DownloadTimeout time.Duration `yaml:"download_timeout" env:"DOWNLOAD_TIMEOUT"`
	MaxObjectBytes  int64         `yaml:"max_object_bytes" env:"MAX_OBJECT_BYTES"`
}

// Enabled reports whether rehosting has a target bucket.
func (s StorageConfig) Enabled() bool {
	return s.Bucket != ""
}

// ProvidersConfig 各 Provider 的兜底凭证、端点与轮询预算
type ProvidersConfig struct {
	BFL          providers.BFLConfig          `yaml:"bfl" env:"BFL"`
	Runway       providers.RunwayConfig       `yaml:"runway" env:"RUNWAY"`
	Tripo        providers.TripoConfig        `yaml:"tripo" env:"TRIPO"`
	VolcVisual   providers.VolcVisualConfig   `yaml:"volc_visual" env:"VOLC_VISUAL"`
	Fal          providers.FalConfig          `yaml:"fal" env:"FAL"`
	Ark          providers.ArkConfig          `yaml:"ark" env:"ARK"`
	GoogleSearch providers.GoogleSearchConfig `yaml:"google_search" env:"GOOGLE_SEARCH"`
	OpenAI       providers.OpenAIConfig       `yaml:"openai" env:"OPENAI"`
	Gemini       providers.GeminiConfig       `yaml:"gemini" env:"GEMINI"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	dotEnv     []string
	lookup     func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookup:    os.LookupEnv,
	}
}

// WithConfigPath 设置 YAML 配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithDotEnv 追加 .env 文件；不存在的文件被忽略。文件中的值只补充进程
// 环境中缺失的变量，且不会写回进程环境。
func (l *Loader) WithDotEnv(paths ...string) *Loader {
	l.dotEnv = append(l.dotEnv, paths...)
	return l
}

// WithValidator 添加额外的配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	lookup, err := l.envLookup()
	if err != nil {
		return nil, fmt.Errorf("failed to load dotenv: %w", err)
	}
	if err := setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix, lookup); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// envLookup layers the .env files under the process environment.
func (l *Loader) envLookup() (func(string) (string, bool), error) {
	var existing []string
	for _, p := range l.dotEnv {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return l.lookup, nil
	}
	vars, err := godotenv.Read(existing...)
	if err != nil {
		return nil, err
	}
	base := l.lookup
	return func(key string) (string, bool) {
		if v, ok := base(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}, nil
}

// setFieldsFromEnv 递归设置结构体字段
func setFieldsFromEnv(v reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey, lookup); err != nil {
				return err
			}
			continue
		}

		envValue, ok := lookup(envKey)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}
	return nil
}

// =============================================================================
// ✅ 配置验证
// =============================================================================

// Validate 检查端口、日志、代理、遥测、存储与轮询预算
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port %d out of range", c.Server.HTTPPort))
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("server.metrics_port %d out of range", c.Server.MetricsPort))
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, errors.New("server.metrics_port must differ from server.http_port"))
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, errors.New("server rate limit must not be negative"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or console", c.Log.Format))
	}

	if err := c.Proxy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("proxy: %w", err))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.OTLPEndpoint == "" {
			errs = append(errs, errors.New("telemetry.otlp_endpoint is required when telemetry is enabled"))
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, fmt.Errorf("telemetry.sample_rate %v not in [0,1]", c.Telemetry.SampleRate))
		}
	}

	if c.Storage.Enabled() {
		if c.Storage.Region == "" && c.Storage.Endpoint == "" {
			errs = append(errs, errors.New("storage.region or storage.endpoint is required when storage.bucket is set"))
		}
		if c.Storage.Concurrency < 0 || c.Storage.MaxObjectBytes < 0 {
			errs = append(errs, errors.New("storage limits must not be negative"))
		}
	}

	for name, p := range c.Providers.polls() {
		if p.InitialDelay < 0 || p.Interval < 0 || p.MaxAttempts < 0 || p.MaxTransientFailures < 0 {
			errs = append(errs, fmt.Errorf("providers.%s.poll must not be negative", name))
		}
	}

	return errors.Join(errs...)
}

func (p ProvidersConfig) polls() map[string]providers.PollConfig {
	return map[string]providers.PollConfig{
		"bfl":         p.BFL.Poll,
		"runway":      p.Runway.Poll,
		"tripo":       p.Tripo.Poll,
		"volc_visual": p.VolcVisual.Poll,
		"fal":         p.Fal.Poll,
	}
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
