// Package conf implements the keyed configuration store described in
// spec §4.3 and §6: a closed set of recognised keys, per-key defaults,
// typed accessors, and per-crontab-row override cloning.
package conf

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	logx "github.com/CBrophy/omicron/pkg/logx"
)

// Configuration is an immutable snapshot of recognised key/value pairs.
// A new instance is produced by Load, Reload, or WithOverrides; nothing
// mutates a Configuration in place, so two goroutines holding references
// to the same instance never race.
type Configuration struct {
	values   map[Key]string
	path     string
	modified time.Time
}

// Load reads configFilePath and returns a Configuration. A missing or
// unreadable file is not fatal: it yields an all-defaults Configuration,
// matching the "fall back to defaults at process start" rule in spec §7
// kind 1.
func Load(configFilePath string, log logx.Logger) *Configuration {
	values := map[Key]string{}

	trimmedPath := strings.TrimSpace(configFilePath)
	if trimmedPath == "" {
		log.Info("no config file specified, using defaults")
		return &Configuration{values: values, path: configFilePath}
	}

	f, err := os.Open(trimmedPath)
	if err != nil {
		log.Info("config file not found or unreadable, using defaults", logx.String("path", trimmedPath), logx.Err(err))
		return &Configuration{values: values, path: configFilePath}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			log.Warn("skipping malformed config line", logx.String("line", line))
			continue
		}

		rawKey := strings.TrimSpace(line[:idx])
		rawVal := strings.TrimSpace(line[idx+1:])
		if rawKey == "" || rawVal == "" {
			log.Warn("skipping malformed config line", logx.String("line", line))
			continue
		}

		key := KeyFromString(rawKey)
		if key == KeyUnknown {
			log.Warn("skipping unknown config param", logx.String("line", line))
			continue
		}

		values[key] = rawVal
	}

	if len(values) == 0 {
		log.Warn("config file values not loaded, using defaults", logx.String("path", trimmedPath))
	}

	modified := time.Time{}
	if info, statErr := os.Stat(trimmedPath); statErr == nil {
		modified = info.ModTime()
	}

	cfg := &Configuration{values: values, path: configFilePath, modified: modified}
	cfg.logValues(log)
	return cfg
}

func (c *Configuration) logValues(log logx.Logger) {
	for _, k := range allKeys {
		log.Debug("config", logx.String("key", k.RawName()), logx.String("value", c.String(k)))
	}
}

// Reload re-reads the configuration from disk (same path) and returns a
// new instance, per spec §4.3's reload() semantics.
func (c *Configuration) Reload(log logx.Logger) *Configuration {
	return Load(c.path, log)
}

// WithOverrides returns a new Configuration whose values are merged from
// overrides, dropping any key that isn't allowed to be overridden. A nil
// or empty overrides map returns the receiver unchanged.
func (c *Configuration) WithOverrides(overrides map[Key]string) *Configuration {
	if len(overrides) == 0 {
		return c
	}

	merged := make(map[Key]string, len(c.values)+len(overrides))
	for k, v := range c.values {
		merged[k] = v
	}
	for k, v := range overrides {
		if !k.AllowOverride() {
			continue
		}
		merged[k] = v
	}

	return &Configuration{values: merged, path: c.path, modified: c.modified}
}

// ConfigFilePath returns the path this Configuration was (or would be) loaded from.
func (c *Configuration) ConfigFilePath() string { return c.path }

// ModTime returns the mtime of the config file at load time, or the zero
// Time if none was loaded.
func (c *Configuration) ModTime() time.Time { return c.modified }

// String returns the value for key, falling back to its default.
func (c *Configuration) String(key Key) string {
	if key == KeyUnknown {
		return ""
	}
	if v, ok := c.values[key]; ok {
		return v
	}
	return key.defaultValue()
}

// Int parses the key's value as a base-10 integer. A malformed override
// value falls back to the key's default rather than propagating a parse
// error into the scheduler loop.
func (c *Configuration) Int(key Key) int {
	raw := c.String(key)
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		n, _ = strconv.Atoi(key.defaultValue())
	}
	return n
}

// Bool parses the key's value case-insensitively as "true"/"false".
func (c *Configuration) Bool(key Key) bool {
	raw := strings.ToLower(strings.TrimSpace(c.String(key)))
	return raw == "true"
}

// TimeZone resolves the configured IANA timezone name, falling back to UTC.
func (c *Configuration) TimeZone() *time.Location {
	name := c.String(KeyTimezone)
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Downtime parses KeyAlertDowntime as a TimeInterval. Returns (zero,
// false) if the value is empty or malformed.
func (c *Configuration) Downtime() (TimeInterval, bool) {
	raw := strings.TrimSpace(c.String(KeyAlertDowntime))
	if raw == "" {
		return TimeInterval{}, false
	}
	interval, err := ParseTimeInterval(raw)
	if err != nil {
		return TimeInterval{}, false
	}
	return interval, true
}

// Fingerprint returns a string summarizing every recognised key's value
// plus the file mtime this Configuration was loaded with, suitable for
// use as (part of) a map key. Two Configurations with the same
// Fingerprint are Equal and vice versa.
func (c *Configuration) Fingerprint() string {
	var b strings.Builder
	for _, k := range allKeys {
		b.WriteString(k.RawName())
		b.WriteByte('=')
		b.WriteString(c.String(k))
		b.WriteByte(';')
	}
	b.WriteString("modified=")
	b.WriteString(c.modified.String())
	return b.String()
}

// Equal compares all recognised key values plus the load-time file mtime
// between two configurations. Two Configurations are interchangeable for
// Job-identity purposes iff Equal.
func (c *Configuration) Equal(other *Configuration) bool {
	if c == nil || other == nil {
		return c == other
	}
	if !c.modified.Equal(other.modified) {
		return false
	}
	for _, k := range allKeys {
		if c.String(k) != other.String(k) {
			return false
		}
	}
	return true
}
