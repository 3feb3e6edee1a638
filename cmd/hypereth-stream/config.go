package main

import (
	"net/url"
	"os"
	"strings"

	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"
)

// Config holds the connection settings which can also be given as flags.
// Flags win over the config file when both are set.
//
// Example file:
//
//	url: wss://api.hypereth.io/ws
//	environment: testnet
//	apiKey: he_live_abc123
type Config struct {
	URL         string `yaml:"url"`
	Environment string `yaml:"environment"`
	APIKey      string `yaml:"apiKey"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Annotatef(err, "opening config file %q", filename)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Annotatef(err, "parsing YAML from %q", filename)
	}

	return &cfg, nil
}

// Merge overlays other on top of c, field by field. Empty fields on other
// leave c's value in place.
func (c *Config) Merge(other *Config) *Config {
	ret := *c

	if other.URL != "" {
		ret.URL = other.URL
	}
	if other.Environment != "" {
		ret.Environment = other.Environment
	}
	if other.APIKey != "" {
		ret.APIKey = other.APIKey
	}

	return &ret
}

// parseSubscription splits "l2Book?coin=BTC" into the channel name and its
// parameters.
func parseSubscription(s string) (channel string, params map[string]string, err error) {
	channel, query, found := strings.Cut(s, "?")
	if channel == "" {
		return "", nil, errors.Errorf("invalid subscription %q", s)
	}
	if !found {
		return channel, nil, nil
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return "", nil, errors.Annotatef(err, "invalid subscription %q", s)
	}

	params = make(map[string]string, len(values))
	for k := range values {
		params[k] = values.Get(k)
	}

	return channel, params, nil
}
