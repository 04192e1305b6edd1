package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/dmacap/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every `env` struct tag.
const EnvPrefix = "DMACAP_"

var durationType = reflect.TypeOf(time.Duration(0))

// LoadConfig loads configuration with proper precedence: CLI args > env vars > config file.
// If cmd is provided, flags explicitly set via CLI will not be overwritten.
//
// opts must point to a struct. A string field named Config holds the TOML
// path; other fields opt in with `toml:"section.key"` and `env:"KEY"` tags.
// Durations accept Go duration strings ("5s") or integer seconds.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	changedFlags := make(map[string]bool)
	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				changedFlags[f.Name] = true
			}
		})
	}

	var configPath string
	if f := v.FieldByName("Config"); f.IsValid() && f.Kind() == reflect.String {
		configPath = f.String()
	}

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			var config map[string]any
			if err := toml.Unmarshal(data, &config); err != nil {
				return fmt.Errorf("failed to parse TOML config %s: %w", configPath, err)
			}

			for i := 0; i < v.NumField(); i++ {
				fieldType := t.Field(i)
				if changedFlags[fieldNameToFlag(fieldType.Name)] {
					continue
				}
				tomlPath := fieldType.Tag.Get("toml")
				if tomlPath == "" {
					continue
				}
				if value := getNestedValue(config, tomlPath); value != nil {
					if err := setFieldValue(v.Field(i), value); err != nil {
						return fmt.Errorf("config key %s: %w", tomlPath, err)
					}
				}
			}
		}
	}

	for i := 0; i < v.NumField(); i++ {
		fieldType := t.Field(i)
		if changedFlags[fieldNameToFlag(fieldType.Name)] {
			continue
		}
		envKey := fieldType.Tag.Get("env")
		if envKey == "" {
			continue
		}
		if envValue := os.Getenv(EnvPrefix + envKey); envValue != "" {
			if err := setFieldValueFromString(v.Field(i), envValue); err != nil {
				return fmt.Errorf("environment %s%s: %w", EnvPrefix, envKey, err)
			}
		}
	}

	return nil
}

// fieldNameToFlag converts a struct field name to a CLI flag name.
// Example: "LoggingLevel" -> "logging-level", "Port" -> "port".
func fieldNameToFlag(fieldName string) string {
	var result []rune
	for i, r := range fieldName {
		if i > 0 && unicode.IsUpper(r) {
			result = append(result, '-')
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}

// getNestedValue retrieves a value from nested map using dot notation.
func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data

	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		if next, ok := current[part].(map[string]any); ok {
			current = next
		} else {
			return nil
		}
	}
	return nil
}

// setFieldValue sets a field from a decoded TOML value.
func setFieldValue(field reflect.Value, value any) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == durationType {
		switch d := value.(type) {
		case string:
			return setFieldValueFromString(field, d)
		case int64:
			field.SetInt(int64(time.Duration(d) * time.Second))
			return nil
		default:
			return fmt.Errorf("want duration, got %T", value)
		}
	}

	switch field.Kind() {
	case reflect.String:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", value)
		}
		field.SetString(s)
	case reflect.Bool:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("want bool, got %T", value)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		i, ok := value.(int64)
		if !ok {
			return fmt.Errorf("want integer, got %T", value)
		}
		field.SetInt(i)
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		i, ok := value.(int64)
		if !ok || i < 0 {
			return fmt.Errorf("want non-negative integer, got %v", value)
		}
		if field.OverflowUint(uint64(i)) {
			return fmt.Errorf("%d out of range", i)
		}
		field.SetUint(uint64(i))
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("want array, got %T", value)
		}
		slice := make([]string, len(arr))
		for i, v := range arr {
			if s, strOk := v.(string); strOk {
				slice[i] = s
			}
		}
		field.Set(reflect.ValueOf(slice))
	}
	return nil
}

// setFieldValueFromString sets a field value from string (for env vars).
func setFieldValueFromString(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == durationType {
		if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
			field.SetInt(int64(time.Duration(secs) * time.Second))
			return nil
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		i, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(i)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Parse comma-separated values for env vars
			parts := strings.Split(value, ",")
			slice := make([]string, len(parts))
			for i, part := range parts {
				slice[i] = strings.TrimSpace(part)
			}
			field.Set(reflect.ValueOf(slice))
		}
	}
	return nil
}

// DefaultLogging is the logging configuration used when the file has none.
func DefaultLogging() logging.Config {
	return logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}
}

// LoadLogging reads the [logging] table of a TOML file. Module levels may be
// given in a [logging.modules] table or as plain keys next to level and
// format:
//
//	[logging]
//	level = "info"
//	v4l2 = "debug"
//
//	[logging.modules]
//	capture = "debug"
func LoadLogging(configPath string) (logging.Config, error) {
	cfg := DefaultLogging()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}

	var rawConfig struct {
		Logging map[string]any `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &rawConfig); err != nil {
		return cfg, fmt.Errorf("failed to parse TOML config %s: %w", configPath, err)
	}

	for key, value := range rawConfig.Logging {
		switch v := value.(type) {
		case string:
			switch key {
			case "level":
				cfg.Level = v
			case "format":
				cfg.Format = v
			default:
				cfg.Modules[key] = v
			}
		case map[string]any:
			if key != "modules" {
				continue
			}
			for module, level := range v {
				if s, ok := level.(string); ok {
					cfg.Modules[module] = s
				}
			}
		}
	}

	return cfg, nil
}

// LoadLoggingConfig is LoadLogging that falls back to DefaultLogging when
// the file is missing or malformed.
func LoadLoggingConfig(configPath string) logging.Config {
	if configPath == "" {
		return DefaultLogging()
	}
	cfg, err := LoadLogging(configPath)
	if err != nil {
		return DefaultLogging()
	}
	return cfg
}
