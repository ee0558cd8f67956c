package plugin

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition declares a characteristics-backed plugin in the plugins file:
//
//	plugins:
//	  - tag: controllermockone
//	    id_key: id_key
type Definition struct {
	Tag   string `yaml:"tag"`
	IDKey string `yaml:"id_key"`
}

type definitionFile struct {
	Plugins []Definition `yaml:"plugins"`
}

// LoadDefinitions reads plugin definitions from a YAML file.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugins file: %w", err)
	}
	return ParseDefinitions(bytes.NewReader(data))
}

func ParseDefinitions(r io.Reader) ([]Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f definitionFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse plugins file: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Plugins))
	for i, d := range f.Plugins {
		tag := NormalizeTag(d.Tag)
		if tag == "" {
			return nil, fmt.Errorf("plugins[%d]: tag is required", i)
		}
		if _, dup := seen[tag]; dup {
			return nil, fmt.Errorf("plugins[%d]: duplicate tag %q", i, tag)
		}
		seen[tag] = struct{}{}
		f.Plugins[i].Tag = tag
	}
	return f.Plugins, nil
}

// Strategies builds one Characteristics strategy per definition.
func Strategies(defs []Definition, opts ...CharacteristicsOption) []Strategy {
	out := make([]Strategy, 0, len(defs))
	for _, d := range defs {
		o := append([]CharacteristicsOption{WithIDKey(d.IDKey)}, opts...)
		out = append(out, NewCharacteristics(d.Tag, o...))
	}
	return out
}
