package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://drbgd.local/schema/config.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func configSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString(schemaURL, schemaJSON)
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks a raw TOML, JSON or YAML document against the
// configuration schema before it is decoded. Unknown keys and values of
// the wrong type are reported as ValidationErrors.
func ValidateDocument(data []byte, format string) error {
	schema, err := configSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	var doc map[string]any
	if err := decode(data, format, &doc); err != nil {
		return err
	}
	instance, err := normalize(doc)
	if err != nil {
		return err
	}

	if err := schema.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return schemaErrors(ve)
		}
		return err
	}
	return nil
}

// normalize round-trips a decoded document through JSON so TOML and YAML
// values reach the validator as JSON types.
func normalize(doc map[string]any) (any, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("normalize config: %w", err)
	}
	return v, nil
}

// schemaErrors flattens a validation error tree to its leaves.
func schemaErrors(ve *jsonschema.ValidationError) ValidationErrors {
	var errs ValidationErrors
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			errs = append(errs, ValidationError{Field: pointerField(e.InstanceLocation), Message: e.Message})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return errs
}

// pointerField turns "/reseed/master_interval" into "reseed.master_interval".
func pointerField(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return "(root)"
	}
	return strings.ReplaceAll(ptr, "/", ".")
}

func decodeJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// encode renders cfg in format.
func encode(cfg *Config, format string) ([]byte, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "yaml", "yml":
		return yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}
