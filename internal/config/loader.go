package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yml
var defaultsYAML []byte

//go:embed config.schema.json
var schemaJSON []byte

type envKind int

const (
	envString envKind = iota
	envInt
	envBool
)

type envBinding struct {
	path string
	kind envKind
}

// DefaultEnvMapping maps environment variables onto dotted config paths.
var DefaultEnvMapping = map[string]envBinding{
	"WHEELHOUSE_API_KEY":      {path: "wheelhouse.api_key"},
	"WHEELHOUSE_USER_API_KEY": {path: "wheelhouse.user_api_key"},
	"WHEELHOUSE_BASE_URL":     {path: "wheelhouse.base_url"},
	"WHEELHOUSE_MOCK":         {path: "wheelhouse.mock", kind: envBool},
	"DATA_BASE_PATH":          {path: "storage.base_path"},
	"LOG_LEVEL":               {path: "application.log_level"},
	"ETL_BATCH_SIZE":          {path: "wheelhouse.page_size", kind: envInt},
	"ETL_MAX_RETRIES":         {path: "wheelhouse.max_retries", kind: envInt},
	"ETL_TIMEOUT":             {path: "wheelhouse.timeout"},
	"METRICS_TEXTFILE":        {path: "monitoring.metrics.textfile_path"},
}

// Load builds a Config by layering, lowest precedence first:
//  1. embedded defaults
//  2. the YAML file at cfgPath, when it exists
//  3. a .env file in the working directory, when it exists
//  4. environment variables from DefaultEnvMapping
//
// The merged document is validated against the embedded JSON schema before
// it is decoded. Credentials are not checked here; call Validate.
func Load(cfgPath string) (*Config, error) {
	return LoadWithEnv(cfgPath, DefaultEnvMapping)
}

// LoadWithEnv is Load with a custom env mapping. A nil mapping disables env
// overrides.
func LoadWithEnv(cfgPath string, envMapping map[string]envBinding) (*Config, error) {
	var merged map[string]interface{}
	if err := yaml.Unmarshal(defaultsYAML, &merged); err != nil {
		return nil, fmt.Errorf("unmarshal defaults: %w", err)
	}

	if cfgPath != "" {
		yb, err := os.ReadFile(cfgPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("%w: read config: %v", ErrLoadConfig, err)
		default:
			var doc map[string]interface{}
			if err := yaml.Unmarshal(yb, &doc); err != nil {
				return nil, fmt.Errorf("%w: unmarshal yaml: %v", ErrInvalidConfig, err)
			}
			mergeMaps(merged, doc)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: load .env: %v", ErrLoadConfig, err)
	}
	if err := applyEnvOverrides(merged, envMapping); err != nil {
		return nil, err
	}

	if err := validateDocument(merged); err != nil {
		return nil, err
	}

	out, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal merged config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(out, &cfg); err != nil {
		return nil, fmt.Errorf("%w: decode config: %v", ErrInvalidConfig, err)
	}

	return &cfg, nil
}

// validateDocument checks a merged config document against the JSON schema.
func validateDocument(doc map[string]interface{}) error {
	jsonCompatible, err := toJSONCompatible(doc)
	if err != nil {
		return fmt.Errorf("convert yaml->json compatible: %w", err)
	}
	jb, err := json.Marshal(jsonCompatible)
	if err != nil {
		return fmt.Errorf("marshal to json: %w", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewBytesLoader(jb))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var sb strings.Builder
		for _, e := range result.Errors() {
			sb.WriteString("\n- ")
			sb.WriteString(e.String())
		}
		return fmt.Errorf("%w:%s", ErrInvalidConfig, sb.String())
	}
	return nil
}

// applyEnvOverrides reads environment variables per mapping and sets dotted-paths in cfg.
func applyEnvOverrides(cfg map[string]interface{}, mapping map[string]envBinding) error {
	for env, binding := range mapping {
		v, ok := os.LookupEnv(env)
		if !ok || v == "" {
			continue
		}
		switch binding.kind {
		case envInt:
			i, err := tryParseInt(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, env, v)
			}
			setNestedField(cfg, binding.path, i)
		case envBool:
			b, err := parseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidConfig, env, v)
			}
			setNestedField(cfg, binding.path, b)
		default:
			setNestedField(cfg, binding.path, v)
		}
	}
	return nil
}

// mergeMaps copies src into dst, descending into nested maps.
func mergeMaps(dst, src map[string]interface{}) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]interface{})
		dstMap, dstIsMap := dst[k].(map[string]interface{})
		if srcIsMap && dstIsMap {
			mergeMaps(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}

// setNestedField sets value at dotted path (e.g. "monitoring.metrics.enabled") creating maps as needed.
func setNestedField(m map[string]interface{}, dotted string, value interface{}) {
	parts := strings.Split(dotted, ".")
	last := len(parts) - 1
	cur := m
	for i, p := range parts {
		if i == last {
			cur[p] = value
			return
		}
		next, exists := cur[p]
		if !exists {
			nm := make(map[string]interface{})
			cur[p] = nm
			cur = nm
			continue
		}
		switch typed := next.(type) {
		case map[string]interface{}:
			cur = typed
		default:
			nm := make(map[string]interface{})
			cur[p] = nm
			cur = nm
		}
	}
}

// tryParseInt attempts to parse string to int; returns error on failure.
func tryParseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	// "100.0" style values
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if float64(int64(f)) == f {
			return int64(f), nil
		}
	}
	return 0, fmt.Errorf("not int")
}

// parseBool accepts the usual strconv forms plus yes/no.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(s))
}

// toJSONCompatible converts yaml-parsed structures (with map[interface{}]interface{}) into map[string]interface{} recursively.
func toJSONCompatible(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, vv := range val {
			conv, err := toJSONCompatible(vv)
			if err != nil {
				return nil, err
			}
			m[k] = conv
		}
		return m, nil
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, vv := range val {
			conv, err := toJSONCompatible(vv)
			if err != nil {
				return nil, err
			}
			m[fmt.Sprintf("%v", k)] = conv
		}
		return m, nil
	case []interface{}:
		arr := make([]interface{}, len(val))
		for i, vv := range val {
			conv, err := toJSONCompatible(vv)
			if err != nil {
				return nil, err
			}
			arr[i] = conv
		}
		return arr, nil
	default:
		return val, nil
	}
}
