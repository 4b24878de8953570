/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	cfg "stash.kopano.io/kwm/kwmmesh/config"
	"stash.kopano.io/kwm/kwmmesh/signaling/server"
	"stash.kopano.io/kwm/kwmmesh/version"
)

const defaultListenAddr = "127.0.0.1:8780"

var (
	detectDeadlocks = true
)

func commandServe() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve [...args]",
		Short: "Start server and listen for requests",
		Run: func(cmd *cobra.Command, args []string) {
			if err := serve(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("listen", "", fmt.Sprintf("TCP listen address (default \"%s\")", defaultListenAddr))
	serveCmd.Flags().String("config", "", "Path to TOML configuration file")
	serveCmd.Flags().Bool("log-timestamp", true, "Prefix each log line with timestamp")
	serveCmd.Flags().String("log-level", "info", "Log level (one of panic, fatal, error, warn, info or debug)")
	serveCmd.Flags().Bool("with-pprof", false, "With pprof enabled")
	serveCmd.Flags().String("pprof-listen", "127.0.0.1:6060", "TCP listen address for pprof")
	serveCmd.Flags().Bool("with-metrics", false, "Enable metrics")
	serveCmd.Flags().String("metrics-listen", "127.0.0.1:6780", "TCP listen address for metrics")
	serveCmd.Flags().Bool("request-log", false, "Log every HTTP request with its duration (also enabled by KWMMESHD_REQUEST_LOG=1)")
	serveCmd.Flags().Int("room-capacity", cfg.DefaultRoomCapacity, "Maximum number of participants per room")
	serveCmd.Flags().Duration("negotiation-timeout", cfg.DefaultNegotiationTimeout, "Time a link may take to connect before it is closed")
	serveCmd.Flags().Duration("stream-settle-timeout", cfg.DefaultStreamSettleTimeout, "Time to wait for all announced tracks of a published stream")
	serveCmd.Flags().StringArray("ice-server", nil, "ICE server URL, can be given multiple times (default \"stun:stun.l.google.com:19302\")")
	serveCmd.Flags().StringArray("use-ice-if", nil, "Interface to use when gathering ICE candidates, all interfaces will be used if not set")
	serveCmd.Flags().StringArray("use-ice-network-type", nil, "ICE network type supported when gathering candidates, if not set all types (udp4, udp6, tcp4, tcp6) are enabled")
	serveCmd.Flags().String("use-ice-udp-port-range", "", "Range of ephemeral ports that ICE UDP connections can allocate from in format min:max, if not set its not limited")
	serveCmd.Flags().Bool("use-ice-lite", false, "Run ICE in lite mode, requires public addresses")
	serveCmd.Flags().StringArray("nat-1to1-ip", nil, "Public IP address announced in host candidates, can be given multiple times")
	serveCmd.Flags().StringArray("allowed-origin", nil, "Origin pattern accepted for websocket connections, can be given multiple times")
	serveCmd.Flags().BoolVar(&detectDeadlocks, "with-deadlock-detector", detectDeadlocks, "Enable deadlock detection")

	return serveCmd
}

func serve(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var file *cfg.File
	if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
		var err error
		if file, err = cfg.LoadFile(configPath); err != nil {
			return err
		}
	}

	logTimestamp, _ := cmd.Flags().GetBool("log-timestamp")
	logLevel, _ := cmd.Flags().GetString("log-level")
	if file != nil && file.LogLevel != "" && !cmd.Flags().Changed("log-level") {
		logLevel = file.LogLevel
	}

	logger, err := newLogger(!logTimestamp, logLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %v", err)
	}
	logger.WithField("version", version.Version).Infoln("serve start")

	deadlock.Opts.Disable = !detectDeadlocks
	deadlock.Opts.DeadlockTimeout = 15 * time.Second
	if !deadlock.Opts.Disable {
		logger.Warnln("enabled automatic deadlock detector")
	}

	config := &cfg.Config{
		Logger: logger,

		MetricsListenAddr: "127.0.0.1:6780",
	}
	if file != nil {
		if err = file.Apply(config); err != nil {
			return err
		}
		logger.Debugln("configuration file loaded")
	}

	if err = applyFlags(cmd, config, logger); err != nil {
		return err
	}

	// Metrics support.
	config.WithMetrics, _ = cmd.Flags().GetBool("with-metrics")
	if config.WithMetrics && config.MetricsListenAddr != "" {
		reg := prometheus.NewPedanticRegistry()
		config.Metrics = prometheus.WrapRegistererWithPrefix("kwmmeshd_", reg)
		// Add the standard process and Go metrics to the custom registry.
		reg.MustRegister(
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			prometheus.NewGoCollector(),
		)
		go func() {
			metricsListen := config.MetricsListenAddr
			handler := http.NewServeMux()
			logger.WithField("listenAddr", metricsListen).Infoln("metrics enabled, starting listener")
			handler.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			err := http.ListenAndServe(metricsListen, handler)
			if err != nil {
				logger.WithError(err).Errorln("unable to start metrics listener")
			}
		}()
	}

	srv, err := server.NewServer(config)
	if err != nil {
		return fmt.Errorf("failed to create server: %v", err)
	}

	// Profiling support.
	withPprof, _ := cmd.Flags().GetBool("with-pprof")
	pprofListenAddr, _ := cmd.Flags().GetString("pprof-listen")
	if withPprof && pprofListenAddr != "" {
		runtime.SetMutexProfileFraction(5)
		go func() {
			pprofListen := pprofListenAddr
			logger.WithField("listenAddr", pprofListen).Infoln("pprof enabled, starting listener")
			err := http.ListenAndServe(pprofListen, nil)
			if err != nil {
				logger.WithError(err).Errorln("unable to start pprof listener")
			}
		}()
	}

	logger.Infoln("serve started")
	return srv.Serve(ctx)
}

// applyFlags sets config values from the environment and from explicitly
// given flags, overriding the configuration file.
func applyFlags(cmd *cobra.Command, config *cfg.Config, logger logrus.FieldLogger) error {
	flags := cmd.Flags()

	if listenAddr := os.Getenv("KWMMESHD_LISTEN"); listenAddr != "" {
		config.ListenAddr = listenAddr
	}
	if listenAddr, _ := flags.GetString("listen"); listenAddr != "" {
		config.ListenAddr = listenAddr
	}
	if config.ListenAddr == "" {
		config.ListenAddr = defaultListenAddr
	}

	if os.Getenv("KWMMESHD_REQUEST_LOG") == "1" {
		config.RequestLog = true
	}
	if flags.Changed("request-log") {
		config.RequestLog, _ = flags.GetBool("request-log")
	}

	if flags.Changed("metrics-listen") {
		config.MetricsListenAddr, _ = flags.GetString("metrics-listen")
	}

	if flags.Changed("room-capacity") {
		capacity, _ := flags.GetInt("room-capacity")
		if capacity < 1 {
			return fmt.Errorf("invalid room-capacity: %d", capacity)
		}
		config.RoomCapacity = capacity
	}
	if flags.Changed("negotiation-timeout") {
		config.NegotiationTimeout, _ = flags.GetDuration("negotiation-timeout")
	}
	if flags.Changed("stream-settle-timeout") {
		config.StreamSettleTimeout, _ = flags.GetDuration("stream-settle-timeout")
	}

	if values, _ := flags.GetStringArray("ice-server"); len(values) > 0 {
		config.ICEServers = values
	}
	if values, _ := flags.GetStringArray("use-ice-if"); len(values) > 0 {
		config.ICEInterfaces = values
	}
	if len(config.ICEInterfaces) > 0 {
		logger.WithField("interfaces", config.ICEInterfaces).Infoln("limiting ICE interfaces")
	}
	if values, _ := flags.GetStringArray("use-ice-network-type"); len(values) > 0 {
		config.ICENetworkTypes = values
	}
	if len(config.ICENetworkTypes) > 0 {
		logger.WithField("types", config.ICENetworkTypes).Infoln("limiting ICE network types")
	}
	if value, _ := flags.GetString("use-ice-udp-port-range"); value != "" {
		portRange, err := cfg.ParsePortRange(value)
		if err != nil {
			return fmt.Errorf("invalid use-ice-udp-port-range: %w", err)
		}
		config.ICEEphemeralUDPPortRange = portRange
	}
	if config.ICEEphemeralUDPPortRange[0] != 0 {
		logger.WithFields(logrus.Fields{
			"min": config.ICEEphemeralUDPPortRange[0],
			"max": config.ICEEphemeralUDPPortRange[1],
		}).Infoln("limiting ICE port range")
	}
	if flags.Changed("use-ice-lite") {
		config.ICELite, _ = flags.GetBool("use-ice-lite")
	}
	if values, _ := flags.GetStringArray("nat-1to1-ip"); len(values) > 0 {
		config.NAT1To1IPs = values
	}
	if values, _ := flags.GetStringArray("allowed-origin"); len(values) > 0 {
		config.AllowedOrigins = values
	}

	return nil
}
