// Package config loads per-operator configuration the way the teacher's
// components did: a viper.Viper scoped to one operator's section of a YAML
// document, decoded into a concrete Go struct via mapstructure so each
// operator constructor takes a typed value instead of repeating
// v.GetString/v.GetDuration calls.
package config

import (
	"bytes"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load parses a YAML document and returns a viper.Viper over it.
func Load(doc []byte) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	return v, nil
}

// Section returns the sub-tree of v rooted at key as its own Viper, mirroring
// how each teacher component received only its own branch of the document.
func Section(v *viper.Viper, key string) *viper.Viper {
	return v.Sub(key)
}

// Decode maps v's settings onto out, a pointer to a struct tagged with
// `mapstructure:"..."`. Durations arrive from YAML as strings, so the
// decode hook chain mirrors viper's own defaults (StringToTimeDuration plus
// StringToSlice on commas). time.Time fields are not converted from strings.
func Decode(v *viper.Viper, out interface{}) error {
	if v == nil {
		return fmt.Errorf("config: nil section")
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		Result: out,
	})
	if err != nil {
		return fmt.Errorf("config: build decoder: %w", err)
	}
	return decoder.Decode(v.AllSettings())
}

// MarshalYAML is a thin convenience wrapper kept for operators that need to
// echo their resolved configuration back into logs for diagnostics.
func MarshalYAML(v interface{}) ([]byte, error) {
	return yaml.Marshal(v)
}
