package swoff

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration of a swoff instance.
type FileConfig struct {
	StoreName string   `yaml:"storeName"`
	Origin    string   `yaml:"origin"`
	Host      string   `yaml:"host"`
	URLs      Policies `yaml:"urls"`
}

func LoadConfig(filename string) (FileConfig, error) {
	var config FileConfig
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	if err = yaml.Unmarshal(configBytes, &config); err != nil {
		return config, fmt.Errorf("Could not parse %s: %w", filename, err)
	}
	return config, nil
}

// OriginURL parses the configured origin.
func (c FileConfig) OriginURL() (url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return url.URL{}, err
	}
	if u.Scheme == "" || u.Host == "" {
		return url.URL{}, fmt.Errorf("Origin %q is not an absolute URL", c.Origin)
	}
	return *u, nil
}
