package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const (
	envVarPrefix = "SNAPIMG"
	appName      = "snapimg"
)

type Config struct {
	Bucket   string `envconfig:"SNAPIMG_BUCKET"   yaml:"bucket"`
	Prefix   string `envconfig:"SNAPIMG_PREFIX"   yaml:"prefix"   default:"images"`
	Region   string `envconfig:"SNAPIMG_REGION"   yaml:"region"`
	Compress bool   `envconfig:"SNAPIMG_COMPRESS" yaml:"compress" default:"true"`
}

// LoadConfig reads the yaml config file (SNAPIMG_CONFIG_FILE or
// ~/.config/snapimg.yaml) and then lets environment variables override
// it.
func LoadConfig() (*Config, error) {
	configFile := os.Getenv(envVarPrefix + "_CONFIG_FILE")
	if configFile == "" {
		home, _ := os.UserHomeDir()
		configFile = filepath.Join(home, ".config", appName+".yaml")
	}

	var c Config
	data, err := os.ReadFile(configFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshaling config file: %w", err)
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	return &c, nil
}

func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf(
			"missing required config: `bucket` (yaml) / `%s_BUCKET` (env)",
			envVarPrefix,
		)
	}
	return nil
}
