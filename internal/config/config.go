package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`
	Server      struct {
		Addr    string `mapstructure:"addr"`
		TLSAddr string `mapstructure:"tls_addr"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Auth struct {
		OktaDomain    string `mapstructure:"okta_domain"`
		ClientID      string `mapstructure:"client_id"`
		ClientSecret  string `mapstructure:"client_secret"`
		RedirectURL   string `mapstructure:"redirect_url"`
		DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Workflow struct {
		ProgramKey     string `mapstructure:"program_key"`
		MaxOverrides   int    `mapstructure:"max_overrides"`
		DefaultSLADays int    `mapstructure:"default_sla_days"`
	} `mapstructure:"workflow"`
}

// LoadConfig loads the configuration from a file and the environment. An
// explicit path overrides the default search locations.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.AutomaticEnv()

	viper.SetDefault("environment", "DEV")
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.tls_addr", ":8443")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("workflow.program_key", "foreclosure_stabilization_v1")
	viper.SetDefault("workflow.max_overrides", 3)
	viper.SetDefault("workflow.default_sla_days", 30)

	if err := viper.ReadInConfig(); err != nil {
		// Defaults plus environment variables are a workable configuration;
		// only a malformed file is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)
	return &config, nil
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact, so the full URL from the Okta admin console can be pasted
// as-is.
func normalizeOktaIssuer(input string) string {
	iss := strings.TrimSpace(input)
	if strings.HasSuffix(iss, "/") {
		iss = strings.TrimRight(iss, "/")
	}
	return iss
}
