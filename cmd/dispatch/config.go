package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ohowland/cgc_dispatch/internal/pkg/database/mongodb"
	"github.com/ohowland/cgc_dispatch/internal/pkg/database/sqldb"
	"github.com/ohowland/cgc_dispatch/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/cgc_dispatch/internal/pkg/dispatch"
	"github.com/ohowland/cgc_dispatch/internal/pkg/dispatch/dcopf"
	"github.com/ohowland/cgc_dispatch/internal/pkg/dispatch/ed"
	"github.com/ohowland/cgc_dispatch/internal/pkg/symbol"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// appConfig is the merged configuration file, environment and flags.
type appConfig struct {
	Case        string             `mapstructure:"case"`
	Routine     string             `mapstructure:"routine"`
	Every       time.Duration      `mapstructure:"every"`
	MetricsAddr string             `mapstructure:"metrics_addr"`
	HTTPAddr    string             `mapstructure:"http_addr"`
	Dispatch    dispatch.Config    `mapstructure:"dispatch"`
	NATS        natshandler.Config `mapstructure:"nats"`
	Mongo       mongodb.Config     `mapstructure:"mongo"`
	SQL         sqldb.Config       `mapstructure:"sql"`
}

type constructor func(symbol.Provider, dispatch.Config, ...dispatch.Option) (*dispatch.Routine, error)

var routines = map[string]constructor{
	"dcopf": dcopf.New,
	"ed":    ed.NewED,
	"edes":  ed.NewEDES,
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("CGC_DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := dispatch.DefaultConfig()
	v.SetDefault("routine", "dcopf")
	v.SetDefault("dispatch.interval", d.Interval)
	v.SetDefault("dispatch.solver.max_iter", d.Solver.MaxIter)
	v.SetDefault("dispatch.solver.eps_abs", d.Solver.EpsAbs)
	v.SetDefault("dispatch.solver.eps_rel", d.Solver.EpsRel)
	v.SetDefault("dispatch.solver.eps_inf", d.Solver.EpsInf)
	v.SetDefault("dispatch.solver.rho", d.Solver.Rho)
	v.SetDefault("dispatch.solver.sigma", d.Solver.Sigma)
	v.SetDefault("dispatch.solver.alpha", d.Solver.Alpha)
	v.SetDefault("nats.prefix", natshandler.DefaultPrefix)
	v.SetDefault("mongo.database", "cgc_dispatch")
	v.SetDefault("sql.table", "dispatch_messages")
	return v
}

var flagKeys = map[string]string{
	"case":         "case",
	"routine":      "routine",
	"every":        "every",
	"metrics-addr": "metrics_addr",
	"http":         "http_addr",
	"sql-driver":   "sql.driver",
	"sql-dsn":      "sql.dsn",
	"nats":         "nats.server",
	"mongo":        "mongo.uri",
}

func loadConfig(cmd *cobra.Command, path string) (appConfig, error) {
	var cfg appConfig
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return cfg, err
			}
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if f := cmd.Flags().Lookup("period"); f != nil && f.Changed {
		k, err := cmd.Flags().GetInt("period")
		if err != nil {
			return cfg, err
		}
		cfg.Dispatch.Period = &k
	}

	cfg.Routine = strings.ToLower(cfg.Routine)
	if _, ok := routines[cfg.Routine]; !ok {
		return cfg, fmt.Errorf("unknown routine %q", cfg.Routine)
	}
	if cfg.Case == "" {
		return cfg, fmt.Errorf("no case file given")
	}
	if cfg.Every < 0 {
		return cfg, fmt.Errorf("negative run interval %s", cfg.Every)
	}
	return cfg, cfg.Dispatch.Validate()
}
