// Copyright 2024 The mqttkit-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides configuration management for a mqttkit server:
// listener addresses, connection timeouts, and client authentication.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/turtacn/mqttkit-go/pkg/auth"
	"gopkg.in/yaml.v2"
)

// UserConfig is one client credential entry.
type UserConfig struct {
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"password"`
	Algorithm string `yaml:"algorithm" json:"algorithm"`
	Enabled   bool   `yaml:"enabled" json:"enabled"`
}

// AuthConfig configures client authentication.
type AuthConfig struct {
	Enabled bool         `yaml:"enabled" json:"enabled"`
	Users   []UserConfig `yaml:"users" json:"users"`
}

// ServerConfig holds the server settings. Timeouts are in seconds; zero
// disables the corresponding timeout.
type ServerConfig struct {
	ListenAddr        string     `yaml:"listen_addr" json:"listen_addr"`
	MetricsAddr       string     `yaml:"metrics_addr" json:"metrics_addr"`
	HandshakeTimeout  int        `yaml:"handshake_timeout_seconds" json:"handshake_timeout_seconds"`
	DisconnectTimeout int        `yaml:"disconnect_timeout_seconds" json:"disconnect_timeout_seconds"`
	Auth              AuthConfig `yaml:"auth" json:"auth"`
}

// Config is the complete configuration.
type Config struct {
	Server ServerConfig `yaml:"server" json:"server"`
}

// HandshakeDeadline returns the handshake timeout as a duration.
func (c *Config) HandshakeDeadline() time.Duration {
	return time.Duration(c.Server.HandshakeTimeout) * time.Second
}

// DisconnectGrace returns the disconnect timeout as a duration.
func (c *Config) DisconnectGrace() time.Duration {
	return time.Duration(c.Server.DisconnectTimeout) * time.Second
}

// DefaultConfig returns the default configuration: anonymous access on the
// standard port, a five second handshake deadline, and a three second
// disconnect grace.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:        ":1883",
			MetricsAddr:       ":8082",
			HandshakeTimeout:  5,
			DisconnectTimeout: 3,
			Auth: AuthConfig{
				Enabled: false,
			},
		},
	}
}

// LoadConfig loads configuration from a YAML or JSON file. An empty path
// yields the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		log.Println("[INFO] No config file specified, using default configuration")
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config := DefaultConfig()
	ext := strings.ToLower(filepath.Ext(configPath))

	switch ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	case ".json":
		err = json.Unmarshal(data, config)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Printf("[INFO] Configuration loaded from %s", configPath)
	return config, nil
}

// SaveConfig writes the configuration to a YAML or JSON file.
func SaveConfig(config *Config, configPath string) error {
	var data []byte
	var err error

	ext := strings.ToLower(filepath.Ext(configPath))
	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}

	log.Printf("[INFO] Configuration saved to %s", configPath)
	return nil
}

// validateConfig checks the configuration for contradictions.
func validateConfig(config *Config) error {
	if config.Server.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	if config.Server.HandshakeTimeout < 0 {
		return fmt.Errorf("handshake_timeout_seconds cannot be negative")
	}
	if config.Server.DisconnectTimeout < 0 {
		return fmt.Errorf("disconnect_timeout_seconds cannot be negative")
	}

	usernames := make(map[string]bool)
	for i, user := range config.Server.Auth.Users {
		if user.Username == "" {
			return fmt.Errorf("user %d: username cannot be empty", i)
		}
		if usernames[user.Username] {
			return fmt.Errorf("duplicate username: %s", user.Username)
		}
		usernames[user.Username] = true

		if user.Password == "" {
			return fmt.Errorf("user %s: password cannot be empty", user.Username)
		}

		switch user.Algorithm {
		case "plain", "sha256", "bcrypt":
		default:
			return fmt.Errorf("user %s: unsupported algorithm: %s (supported: plain, sha256, bcrypt)", user.Username, user.Algorithm)
		}
	}

	return nil
}

// BuildAuthenticator creates the authenticator described by the auth
// section, or nil when authentication is disabled.
func (c *Config) BuildAuthenticator() (auth.Authenticator, error) {
	if !c.Server.Auth.Enabled {
		log.Println("[INFO] Authentication disabled by configuration")
		return nil, nil
	}

	memAuth := auth.NewMemoryAuthenticator()
	for _, userConfig := range c.Server.Auth.Users {
		algorithm := auth.HashAlgorithm(userConfig.Algorithm)
		if err := memAuth.AddUser(userConfig.Username, userConfig.Password, algorithm); err != nil {
			return nil, fmt.Errorf("failed to add user %s: %w", userConfig.Username, err)
		}
		if err := memAuth.SetUserEnabled(userConfig.Username, userConfig.Enabled); err != nil {
			return nil, fmt.Errorf("failed to set user %s enabled status: %w", userConfig.Username, err)
		}
		log.Printf("[INFO] Configured user: %s (algorithm: %s, enabled: %t)",
			userConfig.Username, userConfig.Algorithm, userConfig.Enabled)
	}

	log.Printf("[INFO] Authentication configured with %d users", len(c.Server.Auth.Users))
	return memAuth, nil
}
