// =============================================================================
// 📦 MediaFlow 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置。Provider 的端点与轮询预算留空，由各 Provider
// 的默认值兜底。
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Redis:     DefaultRedisConfig(),
		Storage:   DefaultStorageConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置。WriteTimeout 为 0：阻塞式
// generate 请求可能持续整个轮询周期。
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    0,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
		MaxBodyBytes:    10 << 20,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "mediaflow",
		SampleRate:   0.1,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "mediaflow:rehost:",
		URLCacheTTL:  7 * 24 * time.Hour,
	}
}

// DefaultStorageConfig 返回默认对象存储配置（未配置 bucket，转存关闭）
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		KeyPrefix:       "uploads/",
		Concurrency:     4,
		DownloadTimeout: 2 * time.Minute,
		MaxObjectBytes:  512 << 20,
	}
}
