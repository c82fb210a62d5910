package config

import "time"

// ProxyConfig holds runtime configuration for the edge reverse proxy.
type ProxyConfig struct {
	Environment     string
	LogLevel        string
	Addr            string
	MetricsAddr     string
	BasePath        string
	UpstreamTimeout time.Duration
}

// LoadProxyConfig constructs a ProxyConfig from environment variables.
func LoadProxyConfig() ProxyConfig {
	port := GetString("PORT", "8000")
	return ProxyConfig{
		Environment:     GetString("APP_ENV", "development"),
		LogLevel:        GetString("LOG_LEVEL", "info"),
		Addr:            GetString("PROXY_ADDR", ":"+port),
		MetricsAddr:     GetString("PROXY_METRICS_ADDR", ""),
		BasePath:        GetString("BASE_PATH", ""),
		UpstreamTimeout: time.Duration(GetInt("PROXY_UPSTREAM_TIMEOUT_SECONDS", 30)) * time.Second,
	}
}
