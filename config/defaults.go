// =============================================================================
// 📦 Chat 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Auth:      DefaultAuthConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		LLM:       DefaultLLMConfig(),
		Stream:    DefaultStreamConfig(),
		Retry:     DefaultRetryConfig(),
		Uploads:   DefaultUploadsConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		MaxUploadBytes:  32 << 20,
	}
}

// DefaultAuthConfig 返回默认认证配置
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret: "",
		TokenTTL:  30 * 24 * time.Hour,
		Issuer:    "chat",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "chat",
		Password:        "",
		Name:            "chat.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:    false,
		Addr:       "localhost:6379",
		Password:   "",
		DB:         0,
		PoolSize:   10,
		HistoryTTL: 10 * time.Minute,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:           "openai",
		APIKey:             "",
		BaseURL:            "",
		Model:              "gpt-4",
		AnalysisModel:      "gpt-3.5-turbo",
		Temperature:        0.7,
		MaxTokens:          2000,
		HistoryLimit:       50,
		HistoryTokenBudget: 6000,
		Timeout:            2 * time.Minute,
		AnalysisWorkers:    4,
		Breaker: BreakerConfig{
			Enabled:          true,
			Threshold:        5,
			ResetTimeout:     30 * time.Second,
			HalfOpenMaxCalls: 1,
		},
	}
}

// DefaultStreamConfig 返回默认流式输出配置
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		FlushInterval:          100 * time.Millisecond,
		SentenceFlush:          true,
		Encoding:               "structured",
		SinkFailureFatal:       false,
		PersistEmpty:           false,
		PersistPartialOnCancel: false,
		SinkTimeout:            10 * time.Second,
	}
}

// DefaultRetryConfig 返回默认重试配置（固定 1s 间隔，最多 3 次）
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   1.0,
		Jitter:       false,
	}
}

// DefaultUploadsConfig 返回默认上传配置
func DefaultUploadsConfig() UploadsConfig {
	return UploadsConfig{
		Dir:           "data/uploads",
		PublicBaseURL: "/files",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "chat",
		SampleRate:   0.1,
	}
}
