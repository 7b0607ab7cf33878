// Package config reads job and project configuration (.aetros.yml).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// DefaultDockerBinary is used when the `docker` key is absent.
const DefaultDockerBinary = "docker"

// StringOrList holds a YAML value that may be either a scalar or a
// sequence of strings. The two shapes carry different meaning for the
// `dockerfile` key, so the original shape is preserved.
type StringOrList struct {
	Value string
	Items []string
}

func (s StringOrList) IsZero() bool {
	return s.Value == "" && s.Items == nil
}

func (s StringOrList) IsList() bool {
	return s.Items != nil
}

// Lines returns the sequence form: the items for a list, or a single
// element holding the scalar.
func (s StringOrList) Lines() []string {
	if s.IsList() {
		return s.Items
	}
	if s.Value == "" {
		return nil
	}
	return []string{s.Value}
}

// MarshalYAML keeps the scalar/sequence shape on round trips.
func (s StringOrList) MarshalYAML() (any, error) {
	if s.IsList() {
		return s.Items, nil
	}
	return s.Value, nil
}

// Config is the recognized configuration shape, shared between the
// project file and the per-job record. Job-level values override
// project-level ones, see Merge.
type Config struct {
	Command       StringOrList   `mapstructure:"command" yaml:"command,omitempty"`
	Image         string         `mapstructure:"image" yaml:"image,omitempty"`
	Dockerfile    StringOrList   `mapstructure:"dockerfile" yaml:"dockerfile,omitempty"`
	Install       StringOrList   `mapstructure:"install" yaml:"install,omitempty"`
	Docker        string         `mapstructure:"docker" yaml:"docker,omitempty"`
	DockerOptions []string       `mapstructure:"docker_options" yaml:"docker_options,omitempty"`
	Resources     map[string]int `mapstructure:"resources" yaml:"resources,omitempty"`
	Epochs        int            `mapstructure:"epochs" yaml:"epochs,omitempty"`
}

// DockerBinary returns the configured container runtime binary.
func (c Config) DockerBinary() string {
	if c.Docker == "" {
		return DefaultDockerBinary
	}
	return c.Docker
}

// Merge overlays job-level values on top of c. Scalars and string-or-list
// values win when set; maps and slices replace wholesale.
func (c Config) Merge(over Config) Config {
	out := c
	if !over.Command.IsZero() {
		out.Command = over.Command
	}
	if over.Image != "" {
		out.Image = over.Image
	}
	if !over.Dockerfile.IsZero() {
		out.Dockerfile = over.Dockerfile
	}
	if !over.Install.IsZero() {
		out.Install = over.Install
	}
	if over.Docker != "" {
		out.Docker = over.Docker
	}
	if over.DockerOptions != nil {
		out.DockerOptions = over.DockerOptions
	}
	if over.Resources != nil {
		out.Resources = over.Resources
	}
	if over.Epochs != 0 {
		out.Epochs = over.Epochs
	}
	return out
}

// Load reads a YAML configuration file. A missing file yields the zero
// Config, callers decide whether required keys are present.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringOrListHook(),
	)))
	if err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func stringOrListHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(StringOrList{})
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != target {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return StringOrList{Value: v}, nil
		case []string:
			return StringOrList{Items: v}, nil
		case []any:
			items := make([]string, 0, len(v))
			for _, it := range v {
				s, ok := it.(string)
				if !ok {
					return nil, fmt.Errorf("expected string in sequence, got %T", it)
				}
				items = append(items, s)
			}
			return StringOrList{Items: items}, nil
		}
		return data, nil
	}
}
