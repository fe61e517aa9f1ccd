package providers

import (
	"time"

	"github.com/BaSui01/mediaflow/task"
)

// PollConfig 轮询预算配置，零值字段回落到各 Provider 的默认值。
type PollConfig struct {
	InitialDelay         time.Duration `json:"initial_delay,omitempty" yaml:"initial_delay" env:"INITIAL_DELAY"`
	Interval             time.Duration `json:"interval,omitempty" yaml:"interval" env:"INTERVAL"`
	MaxAttempts          int           `json:"max_attempts,omitempty" yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	MaxTransientFailures int           `json:"max_transient_failures,omitempty" yaml:"max_transient_failures" env:"MAX_TRANSIENT_FAILURES"`
}

// Budget 将配置合并到默认预算上，非正值字段保留默认。
func (p PollConfig) Budget(def task.Budget) task.Budget {
	b := def
	if p.InitialDelay > 0 {
		b.InitialDelay = p.InitialDelay
	}
	if p.Interval > 0 {
		b.Interval = p.Interval
	}
	if p.MaxAttempts > 0 {
		b.MaxAttempts = p.MaxAttempts
	}
	if p.MaxTransientFailures > 0 {
		b.MaxTransientFailures = p.MaxTransientFailures
	}
	return b
}

// Options 将请求级 poll 覆盖项转换为 task.Option。
func (p PollConfig) Options() []task.Option {
	var opts []task.Option
	if p.InitialDelay > 0 {
		opts = append(opts, task.WithInitialDelay(p.InitialDelay))
	}
	if p.Interval > 0 {
		opts = append(opts, task.WithInterval(p.Interval))
	}
	if p.MaxAttempts > 0 {
		opts = append(opts, task.WithMaxAttempts(p.MaxAttempts))
	}
	if p.MaxTransientFailures > 0 {
		opts = append(opts, task.WithMaxTransientFailures(p.MaxTransientFailures))
	}
	return opts
}

// BFLConfig Black Forest Labs (Flux) 配置
type BFLConfig struct {
	APIKey  string        `json:"-" yaml:"api_key" env:"API_KEY"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Model   string        `json:"model,omitempty" yaml:"model" env:"MODEL"` // flux-kontext-max, flux-kontext-pro, flux-pro-1.1 ...
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout" env:"TIMEOUT"`
	Poll    PollConfig    `json:"poll" yaml:"poll" env:"POLL"`
}

// RunwayConfig Runway 配置
type RunwayConfig struct {
	APIKey     string        `json:"-" yaml:"api_key" env:"API_KEY"`
	BaseURL    string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	APIVersion string        `json:"api_version,omitempty" yaml:"api_version" env:"API_VERSION"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout" env:"TIMEOUT"`
	Poll       PollConfig    `json:"poll" yaml:"poll" env:"POLL"`
}

// TripoConfig Tripo3D 配置
type TripoConfig struct {
	APIKey  string        `json:"-" yaml:"api_key" env:"API_KEY"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout" env:"TIMEOUT"`
	Poll    PollConfig    `json:"poll" yaml:"poll" env:"POLL"`
}

// VolcVisualConfig 火山引擎视觉（即梦 v4）配置，使用 AK/SK 签名
type VolcVisualConfig struct {
	AccessKeyID     string        `json:"-" yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string        `json:"-" yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	Host            string        `json:"host" yaml:"host" env:"HOST"`
	Scheme          string        `json:"scheme,omitempty" yaml:"scheme" env:"SCHEME"`
	Region          string        `json:"region" yaml:"region" env:"REGION"`
	Service         string        `json:"service" yaml:"service" env:"SERVICE"`
	Version         string        `json:"version" yaml:"version" env:"VERSION"`
	ReqKey          string        `json:"req_key" yaml:"req_key" env:"REQ_KEY"`
	Timeout         time.Duration `json:"timeout,omitempty" yaml:"timeout" env:"TIMEOUT"`
	Poll            PollConfig    `json:"poll" yaml:"poll" env:"POLL"`
}

// FalConfig fal.ai 队列 API 配置
type FalConfig struct {
	APIKey  string        `json:"-" yaml:"api_key" env:"API_KEY"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout" env:"TIMEOUT"`
	Poll    PollConfig    `json:"poll" yaml:"poll" env:"POLL"`
}

// ArkConfig 火山方舟同步图片生成配置
type ArkConfig struct {
	APIKey  string        `json:"-" yaml:"api_key" env:"API_KEY"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Model   string        `json:"model,omitempty" yaml:"model" env:"MODEL"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout" env:"TIMEOUT"`
}

// GoogleSearchConfig Serper 谷歌搜索配置
type GoogleSearchConfig struct {
	APIKey  string        `json:"-" yaml:"api_key" env:"API_KEY"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout" env:"TIMEOUT"`
}

// OpenAIConfig OpenAI 图像与对话配置
type OpenAIConfig struct {
	APIKey  string        `json:"-" yaml:"api_key" env:"API_KEY"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Model   string        `json:"model,omitempty" yaml:"model" env:"MODEL"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout" env:"TIMEOUT"`
}

// GeminiConfig Gemini 图像生成配置
type GeminiConfig struct {
	APIKey  string        `json:"-" yaml:"api_key" env:"API_KEY"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Model   string        `json:"model,omitempty" yaml:"model" env:"MODEL"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout" env:"TIMEOUT"`
}
