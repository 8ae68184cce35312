// Package configloader loads a config.Framework from the supplied defaults,
// a file, and QUANT__A__B-style environment overrides, in that order of
// increasing precedence. File discovery and parsing go through viper.
package configloader

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/quantcore/backtest/internal/config"
	"github.com/quantcore/backtest/internal/errs"
)

// envPrefix is the namespace every override environment variable must
// carry.
const envPrefix = "QUANT__"

// Loader merges a config file onto a set of defaults and applies
// environment overrides, producing a validated config.Framework.
type Loader struct {
	logger   *zap.Logger
	defaults config.Framework
}

// New builds a Loader seeded with defaults.
func New(logger *zap.Logger, defaults config.Framework) *Loader {
	return &Loader{logger: logger, defaults: defaults}
}

// Load reads path (if non-empty) via viper, merges it onto the Loader's
// defaults, applies any QUANT__ environment overrides, and validates the
// result. An empty path loads defaults plus environment overrides only.
func (l *Loader) Load(path string) (config.Framework, error) {
	merged, err := structToMap(l.defaults)
	if err != nil {
		return config.Framework{}, errs.Wrap(errs.KindConfig, err, "failed to serialize config defaults")
	}

	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config.Framework{}, errs.Wrap(errs.KindConfig, err, "failed to read config file").WithContext("path", path)
		}
		merged = deepMerge(merged, v.AllSettings())
	}

	merged = applyEnvOverrides(merged, os.Environ())

	var out config.Framework
	raw, err := json.Marshal(merged)
	if err != nil {
		return config.Framework{}, errs.Wrap(errs.KindConfig, err, "failed to marshal merged config")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return config.Framework{}, errs.Wrap(errs.KindConfig, err, "failed to decode merged config")
	}

	if err := out.Validate(); err != nil {
		return config.Framework{}, err
	}

	l.logger.Debug("configuration loaded", zap.String("path", path), zap.String("environment", string(out.Environment)))
	return out, nil
}

// structToMap round-trips v through JSON to get a string-keyed map using
// its existing json tags, so the env/deep-merge machinery below can stay
// field-name agnostic.
func structToMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMerge recursively overlays override onto base, returning a new map.
// A nested map in both inputs is merged key-by-key; any other type in
// override replaces base outright. Override keys resolve against base
// case-insensitively because viper.AllSettings lower-cases every key it
// returns, while base (built from this port's camelCase JSON tags) is not
// lower-cased.
func deepMerge(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		resolved := resolveKey(merged, k)
		if existing, ok := merged[resolved]; ok {
			existingMap, existingIsMap := existing.(map[string]any)
			overrideMap, overrideIsMap := v.(map[string]any)
			if existingIsMap && overrideIsMap {
				merged[resolved] = deepMerge(existingMap, overrideMap)
				continue
			}
		}
		merged[resolved] = v
	}
	return merged
}

// applyEnvOverrides scans environ for QUANT__-prefixed keys and layers
// their parsed values onto config, with double underscores separating
// path segments: QUANT__BACKTEST__STARTDATE sets
// config["backtest"]["startDate"]. A path segment resolves against the
// existing tree case-insensitively, since the record's JSON tags are
// camelCase: set QUANT__ENGINE__WORKERCOUNT, not
// QUANT__ENGINE__WORKER_COUNT, to override a camelCase field.
func applyEnvOverrides(merged map[string]any, environ []string) map[string]any {
	out := make(map[string]any, len(merged))
	for k, v := range merged {
		out[k] = v
	}

	for _, kv := range environ {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}

		path := strings.Trim(strings.TrimPrefix(key, envPrefix), "_")
		if path == "" {
			continue
		}

		var parts []string
		for _, p := range strings.Split(path, "__") {
			if p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			continue
		}

		setNested(out, parts, parseEnvValue(raw))
	}

	return out
}

// resolveKey returns the key already present in m that matches segment
// case-insensitively, or strings.ToLower(segment) if none exists.
func resolveKey(m map[string]any, segment string) string {
	for existing := range m {
		if strings.EqualFold(existing, segment) {
			return existing
		}
	}
	return strings.ToLower(segment)
}

// setNested walks/creates nested maps per keys[:-1] and assigns value at
// keys[len(keys)-1], resolving each segment against the existing tree
// case-insensitively.
func setNested(root map[string]any, keys []string, value any) {
	current := root
	for _, key := range keys[:len(keys)-1] {
		resolved := resolveKey(current, key)
		child, ok := current[resolved].(map[string]any)
		if !ok {
			child = make(map[string]any)
			current[resolved] = child
		}
		current = child
	}
	last := keys[len(keys)-1]
	current[resolveKey(current, last)] = value
}

// parseEnvValue interprets a raw environment string as a bool, a JSON
// scalar/array/object, or a plain string, in that precedence order.
func parseEnvValue(raw string) any {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	if lowered == "true" || lowered == "false" {
		return lowered == "true"
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
