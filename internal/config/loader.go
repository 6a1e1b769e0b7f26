// Package config loads vncproxyd's configuration the way core/config loads
// every other service in this codebase: defaults from struct tags, then an
// optional YAML file, then an optional .env file, then real environment
// variables, each layer overriding the last.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoaderConfig configures where a Loader looks for overrides.
type LoaderConfig struct {
	ConfigFile      string
	EnvironmentFile string
	ServiceName     string
}

// Loader applies the layered configuration precedence described above to an
// arbitrary target struct.
type Loader struct {
	cfg LoaderConfig
}

// NewLoader returns a Loader for cfg.
func NewLoader(cfg LoaderConfig) *Loader {
	return &Loader{cfg: cfg}
}

// Load populates target (a pointer to a struct) from defaults, the config
// file, the environment file, and the process environment, in that order.
func (l *Loader) Load(target interface{}) error {
	if err := l.setDefaults(target); err != nil {
		return fmt.Errorf("config: setting defaults: %w", err)
	}
	if l.cfg.ConfigFile != "" {
		if err := l.loadFromYAML(target, l.cfg.ConfigFile); err != nil {
			return fmt.Errorf("config: loading %s: %w", l.cfg.ConfigFile, err)
		}
	}
	if l.cfg.EnvironmentFile != "" {
		if err := l.loadEnvironmentFile(l.cfg.EnvironmentFile); err != nil {
			return fmt.Errorf("config: loading env file %s: %w", l.cfg.EnvironmentFile, err)
		}
	}
	if err := l.loadFromEnv(target); err != nil {
		return fmt.Errorf("config: applying environment overrides: %w", err)
	}
	return nil
}

func (l *Loader) setDefaults(target interface{}) error {
	return setDefaultsRecursive(reflect.ValueOf(target))
}

func setDefaultsRecursive(v reflect.Value) error {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct || (field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct) {
			if err := setDefaultsRecursive(field); err != nil {
				return err
			}
			continue
		}
		if defaultValue := fieldType.Tag.Get("default"); defaultValue != "" {
			if err := setFieldValue(field, defaultValue); err != nil {
				return fmt.Errorf("field %s: %w", fieldType.Name, err)
			}
		}
	}
	return nil
}

func (l *Loader) loadFromYAML(target interface{}, filename string) error {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, target)
}

func (l *Loader) loadEnvironmentFile(filename string) error {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	for lineNum, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid line %d: %s", lineNum+1, line)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return nil
}

func (l *Loader) loadFromEnv(target interface{}) error {
	return l.loadFromEnvRecursive(reflect.ValueOf(target), "")
}

func (l *Loader) loadFromEnvRecursive(v reflect.Value, prefix string) error {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct || (field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct) {
			nestedPrefix := prefix
			if nestedPrefix != "" {
				nestedPrefix += "_"
			}
			nestedPrefix += strings.ToUpper(fieldType.Name)
			if err := l.loadFromEnvRecursive(field, nestedPrefix); err != nil {
				return err
			}
			continue
		}
		envName := fieldType.Tag.Get("env")
		if envName == "" {
			envName = prefix
			if envName != "" {
				envName += "_"
			}
			envName += strings.ToUpper(fieldType.Name)
		}
		if l.cfg.ServiceName != "" {
			scoped := strings.ToUpper(l.cfg.ServiceName) + "_" + envName
			if value, ok := os.LookupEnv(scoped); ok {
				if err := setFieldValue(field, value); err != nil {
					return fmt.Errorf("env %s: %w", scoped, err)
				}
				continue
			}
		}
		if value, ok := os.LookupEnv(envName); ok {
			if err := setFieldValue(field, value); err != nil {
				return fmt.Errorf("env %s: %w", envName, err)
			}
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			field.SetBool(true)
		case "false", "0", "no", "off":
			field.SetBool(false)
		default:
			return fmt.Errorf("invalid boolean value %q", value)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration %q", value)
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q", value)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer %q", value)
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float %q", value)
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// FindConfigFile searches standard locations for serviceName's config file.
func FindConfigFile(serviceName string) string {
	name := serviceName + ".yaml"
	paths := []string{name, filepath.Join("config", name), filepath.Join("/etc", serviceName, name)}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+serviceName, name))
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
