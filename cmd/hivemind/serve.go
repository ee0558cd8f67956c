package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"hivemind/core-go/internal/discoveryworker"
	"hivemind/core-go/internal/httpapi"
	"hivemind/core-go/internal/metrics"
	"hivemind/core-go/internal/mqttingest"
	"hivemind/core-go/internal/registration"
	"hivemind/core-go/migrations"
)

func newServeCommand(a *app) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, MQTT ingest and local agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending migrations before serving")
	return cmd
}

func (a *app) serve(ctx context.Context, migrate bool) error {
	pool, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if migrate {
		applied, err := pool.Migrate(ctx, migrations.FS)
		if err != nil {
			return err
		}
		a.log.Info().Strs("applied", applied).Msg("migrations complete")
	}

	if counts, err := pool.Queries().CountRegistry(ctx); err != nil {
		a.log.Warn().Err(err).Msg("registry counts unavailable")
	} else {
		a.log.Info().
			Int64("brands", counts.Brands).
			Int64("models", counts.Models).
			Int64("device_types", counts.DeviceTypes).
			Int64("devices", counts.Devices).
			Msg("registry loaded")
	}

	registry, err := a.buildRegistry()
	if err != nil {
		return err
	}

	m := metrics.New()
	svc := registration.NewService(a.log, registration.NewPoolStore(pool), registry, registration.Options{Metrics: m})

	h := httpapi.NewHandler(a.log, svc, pool, httpapi.Options{
		Metrics:        m,
		RateLimitRPS:   a.cfg.RateLimit.RPS,
		RateLimitBurst: a.cfg.RateLimit.Burst,
	})
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var ing *mqttingest.Ingester
	if a.cfg.MQTT.Enabled {
		client, err := mqttingest.Connect(mqttingest.ClientConfig{
			Broker:   a.cfg.MQTT.Broker,
			ClientID: a.cfg.MQTT.ClientID,
			Username: a.cfg.MQTT.Username,
			Password: a.cfg.MQTT.Password,
		}, a.log)
		if err != nil {
			return err
		}
		defer client.Close()
		ing = mqttingest.New(a.log, client, svc, mqttingest.Options{Topic: a.cfg.MQTT.Topic, QoS: a.cfg.MQTT.QoS})
	}

	agentScope, err := a.cfg.Agent.ScopePrefix()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info().Str("addr", srv.Addr).Msg("hivemind listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if ing != nil {
		g.Go(func() error { return ing.Run(gctx) })
	}

	if a.cfg.Agent.Enabled {
		worker := discoveryworker.New(a.log, svc, discoveryworker.Options{
			PollInterval: a.cfg.Agent.Interval,
			ARPTablePath: a.cfg.Agent.ARPPath,
			Scope:        agentScope,
		}, m)
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	}

	err = g.Wait()
	a.log.Info().Msg("shutdown complete")
	return err
}
