package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// InstanceDefinition describes one upstream API as listed in the instances
// file.
type InstanceDefinition struct {
	Name                string        `yaml:"name"`
	BaseURL             string        `yaml:"baseURL"`
	AccessPath          string        `yaml:"accessPath,omitempty"`
	Timeout             time.Duration `yaml:"-"`
	TimeoutErrorMessage string        `yaml:"timeoutErrorMessage,omitempty"`
	Token               string        `yaml:"token,omitempty"`
}

type instanceEntry struct {
	InstanceDefinition `yaml:",inline"`
	Timeout            timeoutValue `yaml:"timeout,omitempty"`
}

type instancesDocument struct {
	Instances []instanceEntry `yaml:"instances"`
}

// timeoutValue is either an integer number of milliseconds or a duration
// string with a unit, such as "10s".
type timeoutValue time.Duration

func (v *timeoutValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: timeout must be milliseconds or a duration", node.Line)
	}

	var d time.Duration
	if node.ShortTag() == "!!int" {
		var ms int64
		if err := node.Decode(&ms); err != nil {
			return err
		}
		d = time.Duration(ms) * time.Millisecond
	} else {
		parsed, err := time.ParseDuration(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: invalid timeout %q: %w", node.Line, node.Value, err)
		}
		d = parsed
	}

	if d < 0 {
		return fmt.Errorf("line %d: timeout %q is negative", node.Line, node.Value)
	}

	*v = timeoutValue(d)
	return nil
}

// Instances returns the API definitions: the "client" instance when
// CLIENT_API_URL is set, followed by any listed in the instances file.
// Definitions from the file inherit the environment defaults for timeout,
// timeout message and access path.
func (c APIConfig) Instances() ([]InstanceDefinition, error) {
	var defs []InstanceDefinition

	if c.ClientURL != "" {
		defs = append(defs, InstanceDefinition{
			Name:                "client",
			BaseURL:             c.ClientURL,
			AccessPath:          c.AccessPath,
			Timeout:             c.Timeout(),
			TimeoutErrorMessage: c.TimeoutErrorMessage,
		})
	}

	if c.InstancesFile == "" {
		return defs, nil
	}

	listed, err := ReadInstancesFile(c.InstancesFile)
	if err != nil {
		return nil, err
	}

	for _, def := range listed {
		if def.Timeout == 0 {
			def.Timeout = c.Timeout()
		}
		if def.TimeoutErrorMessage == "" {
			def.TimeoutErrorMessage = c.TimeoutErrorMessage
		}
		if def.AccessPath == "" {
			def.AccessPath = c.AccessPath
		}
		defs = append(defs, def)
	}

	return defs, nil
}

// ReadInstancesFile parses a YAML document of the form:
//
//	instances:
//	  - name: admin
//	    baseURL: https://admin.example.com/api
//	    timeout: 10s
//	  - name: media
//	    baseURL: https://media.example.com
//	    timeout: 5000 # milliseconds
func ReadInstancesFile(path string) ([]InstanceDefinition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading instances file: %w", err)
	}

	var doc instancesDocument
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parsing instances file %s: %w", path, err)
	}

	defs := make([]InstanceDefinition, 0, len(doc.Instances))
	seen := make(map[string]struct{}, len(doc.Instances))
	for i, entry := range doc.Instances {
		def := entry.InstanceDefinition
		def.Timeout = time.Duration(entry.Timeout)

		if def.Name == "" {
			return nil, fmt.Errorf("instances file %s: entry %d has no name", path, i)
		}
		if _, dup := seen[def.Name]; dup {
			return nil, fmt.Errorf("instances file %s: duplicate instance %q", path, def.Name)
		}
		seen[def.Name] = struct{}{}
		defs = append(defs, def)
	}

	return defs, nil
}
