package main

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type config struct {
	Backend string `mapstructure:"backend"`

	SQLite struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"sqlite"`

	Postgres struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Database string `mapstructure:"database"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"postgres"`

	MySQL struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mysql"`

	Redis struct {
		Addr      string `mapstructure:"addr"`
		Password  string `mapstructure:"password"`
		DB        int    `mapstructure:"db"`
		KeyPrefix string `mapstructure:"key_prefix"`
	} `mapstructure:"redis"`

	Log struct {
		Format string `mapstructure:"format"`
		Level  string `mapstructure:"level"`
	} `mapstructure:"log"`

	Trace struct {
		Exporter string `mapstructure:"exporter"`
		Endpoint string `mapstructure:"endpoint"`
	} `mapstructure:"trace"`

	Metrics struct {
		Exporter string        `mapstructure:"exporter"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"metrics"`

	PollingInterval time.Duration `mapstructure:"polling_interval"`
}

// persistentFlags maps configuration keys to flags shared by all commands
var persistentFlags = []struct {
	key, flag string
	def       any
	usage     string
}{
	{"backend", "backend", "sqlite", "backend to use: sqlite, postgres, mysql, redis"},
	{"sqlite.path", "sqlite-path", "durable.sqlite", "sqlite database file"},
	{"postgres.host", "postgres-host", "localhost", "postgres host"},
	{"postgres.port", "postgres-port", 5432, "postgres port"},
	{"postgres.user", "postgres-user", "postgres", "postgres user"},
	{"postgres.password", "postgres-password", "", "postgres password"},
	{"postgres.database", "postgres-database", "durable", "postgres database"},
	{"postgres.sslmode", "postgres-sslmode", "disable", "postgres sslmode"},
	{"mysql.host", "mysql-host", "localhost", "mysql host"},
	{"mysql.port", "mysql-port", 3306, "mysql port"},
	{"mysql.user", "mysql-user", "root", "mysql user"},
	{"mysql.password", "mysql-password", "", "mysql password"},
	{"mysql.database", "mysql-database", "durable", "mysql database"},
	{"redis.addr", "redis-addr", "localhost:6379", "redis address"},
	{"redis.password", "redis-password", "", "redis password"},
	{"redis.db", "redis-db", 0, "redis database"},
	{"redis.key_prefix", "redis-key-prefix", "", "prefix for all redis keys"},
	{"log.format", "log-format", "text", "log format: text, json"},
	{"log.level", "log-level", "info", "log level: debug, info, warn, error"},
	{"trace.exporter", "trace-exporter", "none", "trace exporter: none, stdout, otlp"},
	{"trace.endpoint", "trace-endpoint", "localhost:4318", "otlp http endpoint"},
	{"metrics.exporter", "metrics-exporter", "none", "metrics exporter: none, stdout"},
	{"metrics.interval", "metrics-interval", time.Minute, "interval between metric exports"},
	{"polling_interval", "polling-interval", time.Second, "how often waiting workflows and clients poll the backend"},
}

func addPersistentFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.PersistentFlags()

	for _, f := range persistentFlags {
		switch def := f.def.(type) {
		case string:
			flags.String(f.flag, def, f.usage)
		case int:
			flags.Int(f.flag, def, f.usage)
		case time.Duration:
			flags.Duration(f.flag, def, f.usage)
		}

		if err := v.BindPFlag(f.key, flags.Lookup(f.flag)); err != nil {
			return err
		}
	}

	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("durable")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("durable")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return v
}

func loadConfig(v *viper.Viper) (*config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// bindFlags binds command specific flags under the given key prefix
func bindFlags(v *viper.Viper, prefix string, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err == nil {
			err = v.BindPFlag(prefix+"."+strings.ReplaceAll(f.Name, "-", "_"), f)
		}
	})

	return err
}
