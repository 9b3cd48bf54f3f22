// Package config provides configuration loading and parsing for stagefire.
package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/torosent/stagefire/internal/strategy"
)

// lookupSetting returns the first candidate present in settings. viper folds
// file keys to lower case, so candidates are compared the same way.
func lookupSetting(settings map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, key := range candidates {
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

func asString(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case map[string]interface{}, map[interface{}]interface{}, []interface{}:
		return "", fmt.Errorf("expected a scalar, got %T", value)
	default:
		return fmt.Sprint(v), nil
	}
}

// asInt accepts the integer shapes YAML and JSON decoding produce. JSON
// numbers arrive as float64 and must be whole.
func asInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		if v > math.MaxInt {
			return 0, fmt.Errorf("%d overflows int", v)
		}
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || math.Abs(v) >= 1<<63 {
			return 0, fmt.Errorf("%v is not a whole number", v)
		}
		return int(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		return strconv.Atoi(s)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", value)
	}
}

func asFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case int, int64, uint64:
		i, err := asInt(v)
		return float64(i), err
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	default:
		return 0, fmt.Errorf("unsupported float type %T", value)
	}
}

func asBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return false, nil
		}
		return strconv.ParseBool(s)
	default:
		return false, fmt.Errorf("unsupported boolean type %T", value)
	}
}

// asDuration reads Go duration strings. Bare numbers are seconds, fractions
// included, so "ramp_timeout: 1.5" is 1500ms.
func asDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return time.ParseDuration(s)
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case int, int64, uint64:
		secs, err := asInt(v)
		return time.Duration(secs) * time.Second, err
	default:
		return 0, fmt.Errorf("unsupported duration type %T", value)
	}
}

// asStrategy accepts the descriptor string or its four parts as a map:
//
//	strategy: {start: 10, end: 50, step: 10, duration: 60}
//
// The result is validated later, together with the mode.
func asStrategy(value interface{}) (string, error) {
	switch value.(type) {
	case map[string]interface{}, map[interface{}]interface{}:
	default:
		s, err := asString(value)
		return strings.TrimSpace(s), err
	}

	parts, err := toStringKeyMap(value)
	if err != nil {
		return "", err
	}
	var d strategy.Descriptor
	for _, field := range []struct {
		key string
		dst *int
	}{
		{"start", &d.Start},
		{"end", &d.End},
		{"step", &d.Step},
		{"duration", &d.Duration},
	} {
		raw, ok := parts[field.key]
		if !ok {
			return "", fmt.Errorf("missing %s", field.key)
		}
		v, err := asInt(raw)
		if err != nil {
			return "", fmt.Errorf("%s: %w", field.key, err)
		}
		*field.dst = v
	}
	return d.String(), nil
}

// asMode accepts a mode number or name.
func asMode(value interface{}) (int, error) {
	if s, ok := value.(string); ok {
		m, err := strategy.ParseModeName(s)
		return int(m), err
	}
	return asInt(value)
}

func asReportFormat(value interface{}) (ReportFormat, error) {
	s, err := asString(value)
	if err != nil {
		return "", err
	}
	return ReportFormat(strings.ToLower(strings.TrimSpace(s))), nil
}

// asFieldPaths reads resource series as name -> JSON path. Names and paths
// are trimmed and must not be empty.
func asFieldPaths(value interface{}) (map[string]string, error) {
	raw, err := asStringMap(value)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(raw))
	for name, path := range raw {
		name, path = strings.TrimSpace(name), strings.TrimSpace(path)
		if name == "" {
			return nil, fmt.Errorf("series name cannot be empty")
		}
		if path == "" {
			return nil, fmt.Errorf("series %q has no path", name)
		}
		fields[name] = path
	}
	return fields, nil
}

// eachEntry walks a decoded map with string or interface keys.
func eachEntry(value interface{}, fn func(key string, val interface{}) error) error {
	switch v := value.(type) {
	case map[string]string:
		for k, val := range v {
			if err := fn(k, val); err != nil {
				return err
			}
		}
	case map[string]interface{}:
		for k, val := range v {
			if err := fn(k, val); err != nil {
				return err
			}
		}
	case map[interface{}]interface{}:
		for k, val := range v {
			key, err := asString(k)
			if err != nil {
				return err
			}
			if err := fn(key, val); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("expected map, got %T", value)
	}
	return nil
}

// asStringMap keeps key case; header names are canonicalized by the caller.
func asStringMap(value interface{}) (map[string]string, error) {
	if value == nil {
		return nil, nil
	}
	result := map[string]string{}
	err := eachEntry(value, func(key string, val interface{}) error {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("key cannot be empty")
		}
		str, err := asString(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		result[key] = str
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// toStringKeyMap lower-cases keys so nested sections match like top-level
// ones.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	result := map[string]interface{}{}
	err := eachEntry(value, func(key string, val interface{}) error {
		result[strings.ToLower(strings.TrimSpace(key))] = val
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// asStringSlice accepts a list or a single string.
func asStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return append([]string(nil), v...), nil
	case []interface{}:
		result := make([]string, len(v))
		for i, item := range v {
			str, err := asString(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			result[i] = str
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported string slice type %T", value)
	}
}
