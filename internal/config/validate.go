package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.DashboardPort < 1 || cfg.Server.DashboardPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.dashboard_port must be between 1 and 65535, got %d", cfg.Server.DashboardPort))
	}
	if cfg.Dashboard.Enabled && cfg.Server.Port == cfg.Server.DashboardPort {
		errs = append(errs, fmt.Sprintf("server.port and server.dashboard_port must differ, both are %d", cfg.Server.Port))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.MaxBodySize < 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_size must be non-negative, got %d", cfg.Server.MaxBodySize))
	}

	// Auth validation
	if cfg.Auth.Enabled && cfg.Auth.Token == "" {
		errs = append(errs, "auth.token must be set when auth.enabled is true")
	}

	// Generation validation
	if cfg.Generation.CooldownSeconds < 0 {
		errs = append(errs, fmt.Sprintf("generation.cooldown_seconds must be non-negative, got %d", cfg.Generation.CooldownSeconds))
	}
	seen := make(map[string]bool)
	for i, p := range cfg.Generation.Providers {
		prefix := fmt.Sprintf("generation.providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, prefix+".name must not be empty")
		} else if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", prefix, p.Name))
		}
		seen[p.Name] = true
		if p.Kind != "" && !isValidEnum(p.Kind, ValidGenerationKinds) {
			errs = append(errs, fmt.Sprintf("%s.kind must be one of %v, got %q", prefix, ValidGenerationKinds, p.Kind))
		}
		if p.Priority < 0 {
			errs = append(errs, fmt.Sprintf("%s.priority must be non-negative, got %d", prefix, p.Priority))
		}
		if p.MaxFailures < 1 {
			errs = append(errs, fmt.Sprintf("%s.max_failures must be at least 1, got %d", prefix, p.MaxFailures))
		}
		if p.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("%s.timeout must be non-negative", prefix))
		}
		if p.Model == "" {
			errs = append(errs, prefix+".model must not be empty")
		}
		if p.MaxTokens < 0 || p.DefaultMaxTokens < 0 || p.ContextWindow < 0 {
			errs = append(errs, prefix+" token limits must be non-negative")
		}
		if p.MaxTemperature != 0 && p.MinTemperature > p.MaxTemperature {
			errs = append(errs, fmt.Sprintf("%s.min_temperature %.2f exceeds max_temperature %.2f", prefix, p.MinTemperature, p.MaxTemperature))
		}
		if p.Rate < 0 || p.Burst < 0 {
			errs = append(errs, prefix+" rate and burst must be non-negative")
		}
	}

	// Search validation
	if cfg.Search.Workers < 1 {
		errs = append(errs, fmt.Sprintf("search.workers must be at least 1, got %d", cfg.Search.Workers))
	}
	if cfg.Search.DefaultMaxResults < 1 {
		errs = append(errs, fmt.Sprintf("search.default_max_results must be at least 1, got %d", cfg.Search.DefaultMaxResults))
	}
	if cfg.Search.CacheTTLSeconds < 0 {
		errs = append(errs, fmt.Sprintf("search.cache_ttl_seconds must be non-negative, got %d", cfg.Search.CacheTTLSeconds))
	}
	if cfg.Search.CacheSize < 0 {
		errs = append(errs, fmt.Sprintf("search.cache_size must be non-negative, got %d", cfg.Search.CacheSize))
	}
	seen = make(map[string]bool)
	for i, p := range cfg.Search.Providers {
		prefix := fmt.Sprintf("search.providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, prefix+".name must not be empty")
		} else if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", prefix, p.Name))
		}
		seen[p.Name] = true
		if p.Kind != "" && !isValidEnum(p.Kind, ValidSearchKinds) {
			errs = append(errs, fmt.Sprintf("%s.kind must be one of %v, got %q", prefix, ValidSearchKinds, p.Kind))
		}
		if p.Recency != "" && !isValidEnum(p.Recency, ValidRecencies) {
			errs = append(errs, fmt.Sprintf("%s.recency must be one of %v, got %q", prefix, ValidRecencies, p.Recency))
		}
		if p.Priority < 0 {
			errs = append(errs, fmt.Sprintf("%s.priority must be non-negative, got %d", prefix, p.Priority))
		}
		if p.MaxErrors < 1 {
			errs = append(errs, fmt.Sprintf("%s.max_errors must be at least 1, got %d", prefix, p.MaxErrors))
		}
		if p.Trust < 0 || p.Trust > 1 {
			errs = append(errs, fmt.Sprintf("%s.trust must be between 0 and 1, got %.2f", prefix, p.Trust))
		}
		if p.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("%s.timeout must be non-negative", prefix))
		}
		if p.Rate < 0 || p.Burst < 0 {
			errs = append(errs, prefix+" rate and burst must be non-negative")
		}
	}

	// Resilience validation
	if cfg.Resilience.RetryMaxAttempts < 0 {
		errs = append(errs, fmt.Sprintf("resilience.retry_max_attempts must be non-negative, got %d", cfg.Resilience.RetryMaxAttempts))
	}
	if cfg.Resilience.RetryBaseDelayMs < 0 {
		errs = append(errs, fmt.Sprintf("resilience.retry_base_delay_ms must be non-negative, got %d", cfg.Resilience.RetryBaseDelayMs))
	}
	if cfg.Resilience.RetryMaxDelayMs < 0 {
		errs = append(errs, fmt.Sprintf("resilience.retry_max_delay_ms must be non-negative, got %d", cfg.Resilience.RetryMaxDelayMs))
	}

	// Tracing validation
	if cfg.Tracing.Enabled {
		if !isValidEnum(cfg.Tracing.Exporter, ValidExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", ValidExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	// Metrics validation
	if cfg.Metrics.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("metrics.retention_days must be at least 1, got %d", cfg.Metrics.RetentionDays))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
