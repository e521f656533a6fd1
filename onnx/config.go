package onnx

import (
	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// EnvPrefix is the prefix of the environment variables read by LoadConfig, e.g. TRACE2ONNX_OPSET.
const EnvPrefix = "TRACE2ONNX"

// Config holds the model-wide settings of a Builder.
type Config struct {
	// Opset is the version of the default ("ai.onnx") operator set.
	Opset int64 `toml:"opset" envconfig:"OPSET"`

	// IRVersion is the ONNX IR version written in the model.
	IRVersion int64 `toml:"ir_version" envconfig:"IR_VERSION"`

	// EnableDoublePrecision keeps float64 constants (and Go `int` constants that don't fit int32) in 64 bits.
	// If false, floating point constants are narrowed to float32.
	EnableDoublePrecision bool `toml:"enable_double_precision" envconfig:"ENABLE_DOUBLE_PRECISION"`

	// ProducerName and ProducerVersion are written in the model.
	ProducerName    string `toml:"producer_name" envconfig:"PRODUCER_NAME"`
	ProducerVersion string `toml:"producer_version" envconfig:"PRODUCER_VERSION"`

	// CustomDomain is the operator domain of the functions created with Builder.AddFunction.
	CustomDomain        string `toml:"custom_domain" envconfig:"CUSTOM_DOMAIN"`
	CustomDomainVersion int64  `toml:"custom_domain_version" envconfig:"CUSTOM_DOMAIN_VERSION"`

	// Metadata is written as the model's metadata_props.
	Metadata map[string]string `toml:"metadata" envconfig:"METADATA"`
}

// DefaultConfig returns the default configuration: opset 21, IR version 10 and functions in the "custom" domain.
func DefaultConfig() Config {
	return Config{
		Opset:               21,
		IRVersion:           10,
		ProducerName:        "trace2onnx",
		ProducerVersion:     "0.1.0",
		CustomDomain:        "custom",
		CustomDomainVersion: 1,
	}
}

// LoadConfig returns DefaultConfig overwritten by the TOML file in path (if path is not empty), and then by the
// environment variables prefixed with EnvPrefix.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "failed to read configuration from %q", path)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to read configuration from environment (prefix %s_)", EnvPrefix)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that the configuration can produce a valid model.
func (c Config) Validate() error {
	if c.Opset <= 0 {
		return errors.Errorf("invalid opset version %d", c.Opset)
	}
	if c.IRVersion <= 0 {
		return errors.Errorf("invalid IR version %d", c.IRVersion)
	}
	if c.CustomDomain == "" {
		return errors.New("custom domain name must not be empty")
	}
	if c.CustomDomainVersion <= 0 {
		return errors.Errorf("invalid custom domain version %d", c.CustomDomainVersion)
	}
	return nil
}
