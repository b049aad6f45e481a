package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/grovetools/trail/errors"
	"github.com/moby/patternmatcher"
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	for i, p := range c.Watch {
		if p == "" || !filepath.IsAbs(p) {
			return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("watch[%d] must be an absolute path", i)).
				WithDetail("path", p)
		}
	}

	if len(c.Ignore) > 0 {
		if _, err := patternmatcher.New(c.Ignore); err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigValidation, "invalid ignore pattern")
		}
	}

	if c.Store != nil {
		switch c.Store.Driver {
		case DriverSQLite:
			if c.Store.Path == "" {
				return errors.New(errors.ErrCodeConfigValidation, "store.path cannot be empty for the sqlite driver")
			}
		case DriverMemory:
		default:
			return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("unknown store driver: %s", c.Store.Driver)).
				WithDetail("driver", c.Store.Driver)
		}
		if c.Store.CacheSize < 0 {
			return errors.New(errors.ErrCodeConfigValidation, "store.cache_size cannot be negative")
		}
	}

	if d := c.Daemon; d != nil {
		if err := validateDuration("daemon.request_timeout", d.RequestTimeout, false); err != nil {
			return err
		}
		if err := validateDuration("daemon.debounce", d.Debounce, true); err != nil {
			return err
		}
		if d.RequestCapacity < 1 {
			return errors.New(errors.ErrCodeConfigValidation, "daemon.request_capacity must be at least 1")
		}
		if d.HistoryLimit < 1 || d.HistoryLimit > 100 {
			return errors.New(errors.ErrCodeConfigValidation, "daemon.history_limit must be between 1 and 100")
		}
	}

	return nil
}

func validateDuration(field, value string, allowZero bool) error {
	v, err := time.ParseDuration(value)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigValidation, fmt.Sprintf("%s is not a valid duration", field)).
			WithDetail("value", value)
	}
	if v < 0 || (v == 0 && !allowZero) {
		return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("%s must be positive", field)).
			WithDetail("value", value)
	}
	return nil
}
