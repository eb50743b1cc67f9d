package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %q", c.Server.Port))
	}
	if c.Server.MaxConcurrent < 1 {
		errs = append(errs, errors.New("server.max_concurrent must be >= 1"))
	}

	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerWindow < 1 {
			errs = append(errs, errors.New("rate_limit.requests_per_window must be >= 1"))
		}
		if c.RateLimit.Window <= 0 {
			errs = append(errs, errors.New("rate_limit.window must be positive"))
		}
	}

	dex := c.Sources.DexScreener
	if dex.Enabled {
		errs = append(errs, validateURL("sources.dexscreener.base_url", dex.BaseURL))
		if dex.RateLimit < 1 {
			errs = append(errs, errors.New("sources.dexscreener.rate_limit must be >= 1"))
		}
		if dex.MaxRetries < 0 {
			errs = append(errs, errors.New("sources.dexscreener.max_retries must be >= 0"))
		}
	}

	jup := c.Sources.Jupiter
	if jup.Enabled {
		errs = append(errs, validateURL("sources.jupiter.base_url", jup.BaseURL))
		if jup.ListTTL <= 0 {
			errs = append(errs, errors.New("sources.jupiter.list_ttl must be positive"))
		}
		if jup.RateLimit < 1 {
			errs = append(errs, errors.New("sources.jupiter.rate_limit must be >= 1"))
		}
		if jup.MaxRetries < 0 {
			errs = append(errs, errors.New("sources.jupiter.max_retries must be >= 0"))
		}
	}

	if !dex.Enabled && !jup.Enabled {
		errs = append(errs, errors.New("sources: at least one source must be enabled"))
	}

	if c.WebSocket.UpdateInterval <= 0 {
		errs = append(errs, errors.New("websocket.update_interval must be positive"))
	}
	if c.WebSocket.PriceChangeThreshold < 0 {
		errs = append(errs, errors.New("websocket.price_change_threshold must be >= 0"))
	}

	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}

	if c.Shutdown.HardDeadline <= 0 {
		errs = append(errs, errors.New("shutdown.hard_deadline must be positive"))
	}

	return errors.Join(errs...)
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", field, raw)
	}
	return nil
}
