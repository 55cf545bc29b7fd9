package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	Workflow struct {
		// ProcessName selects the active process definition used when
		// starting instances.
		ProcessName string `mapstructure:"process_name"`
	} `mapstructure:"workflow"`
	Scheduler struct {
		// OverdueInterval is the period of the overdue task scan.
		OverdueInterval time.Duration `mapstructure:"overdue_interval"`
	} `mapstructure:"scheduler"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if path != "" {
		viper.SetConfigFile(path)
	}
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("http.addr", ":8080")
	viper.SetDefault("workflow.process_name", "Green Classification Approval")
	viper.SetDefault("scheduler.overdue_interval", 24*time.Hour)

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is tolerated; env and defaults still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
