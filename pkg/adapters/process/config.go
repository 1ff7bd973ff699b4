package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Command is one allow-listed executable with its fixed arguments.
type Command struct {
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args" json:"args"`
}

// ServerConfig holds the start and stop commands of one managed server.
type ServerConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Start       Command           `yaml:"start" json:"start"`
	Stop        Command           `yaml:"stop" json:"stop"`
	Environment map[string]string `yaml:"env" json:"env"`
}

// ConfigFile represents the structure of servers.yaml.
type ConfigFile struct {
	Servers []ServerConfig `yaml:"servers" json:"servers"`
}

// LoadServers reads a configuration file (YAML or JSON) and returns the servers by name.
// A missing file means no server can be launched.
func LoadServers(path string) (map[string]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ServerConfig{}, nil
		}
		return nil, fmt.Errorf("read servers config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	servers := make(map[string]ServerConfig, len(cfg.Servers))
	for _, s := range cfg.Servers {
		if s.Name == "" {
			continue
		}
		if s.Start.Command == "" {
			return nil, fmt.Errorf("server %s has no start command", s.Name)
		}
		servers[s.Name] = s
	}
	return servers, nil
}
