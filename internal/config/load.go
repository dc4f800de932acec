package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. FORCERIG_LINK_PORT.
const EnvPrefix = "FORCERIG"

// NewViper returns a viper instance seeded with the defaults and wired for
// environment overrides. If path is empty the config file is searched for
// as forcerig.yaml in the working directory and /etc/forcerig.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v, "", reflect.ValueOf(Default()))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("forcerig")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/forcerig")
	}
	return v
}

// Load reads the config file, if any, and decodes the merged settings. A
// missing file is not an error when no explicit path was given.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every leaf of cfg so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper, prefix string, rv reflect.Value) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		key := rt.Field(i).Tag.Get("mapstructure")
		if prefix != "" {
			key = prefix + "." + key
		}
		f := rv.Field(i)
		if f.Kind() == reflect.Struct {
			setDefaults(v, key, f)
			continue
		}
		v.SetDefault(key, f.Interface())
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

// YAML renders cfg with durations in their string form ("1.5s") and keys
// in declaration order.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(toNode(reflect.ValueOf(c)))
}

func toNode(rv reflect.Value) *yaml.Node {
	if rv.Kind() == reflect.Struct {
		n := &yaml.Node{Kind: yaml.MappingNode}
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			key := rt.Field(i).Tag.Get("yaml")
			n.Content = append(n.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: key},
				toNode(rv.Field(i)),
			)
		}
		return n
	}

	n := &yaml.Node{}
	if rv.Type() == durationType {
		n.Kind = yaml.ScalarNode
		n.Value = time.Duration(rv.Int()).String()
		return n
	}
	if err := n.Encode(rv.Interface()); err != nil {
		n.Kind, n.Tag, n.Value = yaml.ScalarNode, "!!str", fmt.Sprint(rv.Interface())
	}
	return n
}
