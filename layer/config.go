package layer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the on-disk layout of a layers.yaml file.
//
// Example:
//
//	layers:
//	  - name: patient
//	    priority: 1
//	  - name: literature
//	    priority: 2
//	  - name: dictionary
//	    priority: 3
//	    namespace: dict-v2
type ConfigFile struct {
	Layers []Config `yaml:"layers"`
}

// LoadConfigs reads layer configurations from a YAML file and validates
// each entry. Duplicate names or namespaces within the file fail with
// ErrConfig so collisions surface at load time rather than registration.
func LoadConfigs(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layer config: %w", err)
	}
	return ParseConfigs(data)
}

// ParseConfigs parses and validates YAML layer configurations.
func ParseConfigs(data []byte) ([]Config, error) {
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse layer config: %v", ErrConfig, err)
	}
	if len(file.Layers) == 0 {
		return nil, fmt.Errorf("%w: no layers defined", ErrConfig)
	}

	names := make(map[string]bool, len(file.Layers))
	namespaces := make(map[string]bool, len(file.Layers))
	for i := range file.Layers {
		cfg := &file.Layers[i]
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if names[cfg.Name] {
			return nil, fmt.Errorf("%w: duplicate layer name %q", ErrConfig, cfg.Name)
		}
		if namespaces[cfg.Namespace] {
			return nil, fmt.Errorf("%w: duplicate namespace %q", ErrConfig, cfg.Namespace)
		}
		names[cfg.Name] = true
		namespaces[cfg.Namespace] = true
	}
	return file.Layers, nil
}
