package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromFile loads a blob from a file, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}

// SnapshotFromFile reads and parses a snapshot document.
func SnapshotFromFile(path string) (*Snapshot, error) {
	cfg, err := FromFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSnapshot(cfg)
}

// SnapshotFromYAML parses a YAML snapshot document.
func SnapshotFromYAML(data []byte) (*Snapshot, error) {
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	return ParseSnapshot(cfg)
}

// SnapshotFromJSON parses a JSON snapshot document.
func SnapshotFromJSON(data []byte) (*Snapshot, error) {
	cfg, err := FromJSON(data)
	if err != nil {
		return nil, err
	}
	return ParseSnapshot(cfg)
}

// ParseSnapshot builds a snapshot from a generic document of the form
//
//	version: "7"
//	ports:
//	  - id: ticks
//	    direction: input
//	    type: generator
//	    config: {interval: 1s}
//	routing:
//	  type: broadcast
//
// Parsing only checks shape. Call Snapshot.Validate for the structural rules.
func ParseSnapshot(doc Config) (*Snapshot, error) {
	s := &Snapshot{
		Version: versionString(doc.Any("version", "")),
	}

	if doc.Has("ports") {
		ports, ok := doc.List("ports")
		if !ok {
			return nil, Invalid(s.Version, "ports must be a list")
		}
		for i, p := range ports {
			spec, err := parsePort(p)
			if err != nil {
				return nil, Invalid(s.Version, "port #%d: %v", i, err)
			}
			s.Ports = append(s.Ports, spec)
		}
	}

	routing := doc.Sub("routing")
	s.Routing = RoutingSpec{
		Type:   routing.String("type", "broadcast"),
		Config: routing.Sub("config").Clone(),
	}
	return s, nil
}

func parsePort(p Config) (PortSpec, error) {
	dir, err := ParseDirection(p.String("direction", ""))
	if err != nil {
		return PortSpec{}, err
	}
	return PortSpec{
		ID:        PortID(p.String("id", "")),
		Direction: dir,
		Type:      p.String("type", ""),
		Config:    p.Sub("config").Clone(),
	}, nil
}

func versionString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}
