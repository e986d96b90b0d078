package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dicombridge/dicombridge/pkg/errors"
)

// document is the on-disk envelope around the configuration.
type document struct {
	DicomWebOAuth *Config `json:"DicomWebOAuth"`
}

var validate = validator.New()

// Load reads, env-expands, unmarshals and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path) // #nosec G304 - path comes from the --config flag
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(raw)
}

// Parse turns raw JSON into a validated, frozen Config.
// Environment variables referenced as ${NAME} are expanded first.
func Parse(raw []byte) (*Config, error) {
	expanded := expandEnv(string(raw))

	var doc document
	if err := json.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, errors.NewConfigValidationError("config is not valid JSON", err)
	}
	if doc.DicomWebOAuth == nil {
		return nil, errors.NewConfigValidationError("missing DicomWebOAuth section", nil)
	}

	cfg := doc.DicomWebOAuth
	cfg.applyDefaults()

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${NAME} references; bare $NAME is left untouched so
// payload values containing dollar signs survive the pass.
func expandEnv(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := ref[2 : len(ref)-1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return ""
	})
}

// Validate checks the structural rules the core depends on. Violations are
// fatal at startup.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return errors.NewConfigValidationError("configuration failed validation", err)
	}

	for name, server := range cfg.Servers {
		if err := validateServer(name, server); err != nil {
			return err
		}
	}
	return nil
}

func validateServer(name string, server Server) error {
	if server.URL == "" {
		return errors.NewConfigValidationError(fmt.Sprintf("server %q: missing Url", name), nil)
	}
	if server.TokenEndpoint == "" && server.ProviderType != ProviderManagedIdentity && !server.UsesSigV4() {
		return errors.NewConfigValidationError(fmt.Sprintf("server %q: missing TokenEndpoint", name), nil)
	}
	for _, alg := range server.JWTAlgorithms {
		// "none" is refused unconditionally; unsigned tokens are never acceptable.
		if strings.EqualFold(alg, "none") {
			return errors.NewConfigValidationError(fmt.Sprintf("server %q: JWT algorithm \"none\" is not permitted", name), nil)
		}
	}
	return nil
}
