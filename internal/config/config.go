// Package config loads tool configuration from file, environment and defaults.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the managed roots and provisioning policy.
type Config struct {
	KeysRoot        string `mapstructure:"keys_root"`
	ContainersRoot  string `mapstructure:"containers_root"`
	ContainerSuffix string `mapstructure:"container_suffix"`
	MountRoot       string `mapstructure:"mount_root"`
	AuditLog        string `mapstructure:"audit_log"`
	RSABits         int    `mapstructure:"rsa_bits"`
	Filesystem      string `mapstructure:"filesystem"`
	CreateRollback  bool   `mapstructure:"create_rollback"`
}

// Default returns the built-in configuration, used before flags and
// config files are parsed.
func Default() *Config {
	return &Config{
		KeysRoot:        "/etc/skrinja/keys",
		ContainersRoot:  "/var/lib/skrinja",
		ContainerSuffix: ".skr",
		MountRoot:       "/media/skrinja",
		AuditLog:        "/var/log/skrinja/audit.log",
		RSABits:         4096,
		Filesystem:      "ext4",
		CreateRollback:  false,
	}
}

// Load reads configuration from the standard locations, the environment
// (SKRINJA_* variables), and an optional explicit config file path.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("skrinja")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.skrinja")
	v.AddConfigPath("/etc/skrinja")

	v.SetDefault("keys_root", "/etc/skrinja/keys")
	v.SetDefault("containers_root", "/var/lib/skrinja")
	v.SetDefault("container_suffix", ".skr")
	v.SetDefault("mount_root", "/media/skrinja")
	v.SetDefault("audit_log", "/var/log/skrinja/audit.log")
	v.SetDefault("rsa_bits", 4096)
	v.SetDefault("filesystem", "ext4")
	v.SetDefault("create_rollback", false)

	v.SetEnvPrefix("SKRINJA")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file is fine, defaults apply
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}
