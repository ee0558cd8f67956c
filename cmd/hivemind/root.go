package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hivemind/core-go/internal/config"
	"hivemind/core-go/internal/db"
	"hivemind/core-go/internal/enrichment/rdns"
	"hivemind/core-go/internal/enrichment/snmp"
	"hivemind/core-go/internal/logging"
	"hivemind/core-go/internal/plugin"
)

// app carries state shared by every subcommand once configuration is loaded.
type app struct {
	v          *viper.Viper
	configFile string
	cfg        config.Config
	log        zerolog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:           "hivemind",
		Short:         "Device registration and identity resolution service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Path to a YAML config file")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.String("database-url", "", "Postgres connection URL")
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("database.url", flags.Lookup("database-url"))

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(a.v, a.configFile)
		if err != nil {
			return err
		}
		a.cfg = cfg
		a.log = logging.New(cfg.Log.Level)
		return nil
	}

	root.AddCommand(
		newServeCommand(a),
		newMigrateCommand(a),
		newRegisterCommand(a),
	)
	return root
}

func (a *app) openDB(ctx context.Context) (*db.Pool, error) {
	url := strings.TrimSpace(a.cfg.Database.URL)
	if url == "" {
		return nil, errors.New("database.url is required (HIVEMIND_DATABASE_URL or --database-url)")
	}
	pool, err := db.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, nil
}

// buildRegistry assembles the built-in strategies and any from the plugins file.
func (a *app) buildRegistry() (*plugin.Registry, error) {
	var reverse plugin.AddressResolver
	if a.cfg.RDNS.Enabled {
		reverse = rdns.New(rdns.Config{Server: a.cfg.RDNS.Server, Timeout: a.cfg.RDNS.Timeout})
	}
	var reader plugin.SystemReader
	if a.cfg.SNMP.Enabled {
		reader = snmp.NewClient(snmp.Config{
			Community: a.cfg.SNMP.Community,
			Port:      a.cfg.SNMP.Port,
			Timeout:   a.cfg.SNMP.Timeout,
		})
	}

	common := []plugin.CharacteristicsOption{plugin.WithReverseDNS(reverse), plugin.WithLogger(a.log)}
	strategies := []plugin.Strategy{
		plugin.NewCharacteristics("generic", common...),
		plugin.NewSNMP(reader, reverse, a.log),
	}

	if file := strings.TrimSpace(a.cfg.Plugins.File); file != "" {
		defs, err := plugin.LoadDefinitions(file)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, plugin.Strategies(defs, common...)...)
	}

	reg, err := plugin.NewRegistry(strategies...)
	if err != nil {
		return nil, fmt.Errorf("build plugin registry: %w", err)
	}
	a.log.Info().Strs("kinds", reg.Kinds()).Msg("plugin registry ready")
	return reg, nil
}
