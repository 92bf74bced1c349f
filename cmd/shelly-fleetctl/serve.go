package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/shelly-fleet/control-plane/internal/api"
	"github.com/shelly-fleet/control-plane/internal/discovery"
	"github.com/shelly-fleet/control-plane/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the long-lived HTTP façade (REST API, /metrics, /ws/events)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}

		discoveryOpts := discovery.Options{
			CIDRs:       c.cfg.Discovery.Networks,
			MDNSEnabled: c.cfg.Discovery.EnableMDNS,
			MDNSTimeout: time.Duration(c.cfg.Discovery.Timeout) * time.Second,
			Logger:      c.logger,
		}

		handler := api.NewHandler(c.registry, c.catalogue, c.groups, c.engine, c.executor, discoveryOpts)
		if c.cfg.Security.AdminAPIKey != "" {
			handler.SetAdminAPIKey(c.cfg.Security.AdminAPIKey)
		}

		if c.cfg.Metrics.Enabled {
			metricsService := metrics.NewService(c.logger, prometheus.DefaultRegisterer)
			metricsHandler := metrics.NewHandler(metricsService, c.logger)
			if c.cfg.Security.AdminAPIKey != "" {
				metricsHandler.SetAdminAPIKey(c.cfg.Security.AdminAPIKey)
			}
			handler.MetricsService = metricsService
			handler.MetricsHandler = metricsHandler
		}

		router := api.SetupRoutesWithLogger(handler, c.logger)

		addr := fmt.Sprintf("%s:%d", c.cfg.Server.Host, c.cfg.Server.Port)
		c.logger.Info("starting HTTP façade", "addr", addr)
		srv := &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			die(err)
		}
		return nil
	},
}
