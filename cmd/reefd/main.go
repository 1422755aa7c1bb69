// reefd runs the Pickle Reef controller backend without the kiosk UI, for
// bench setups and headless installs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/picklereef/pi-touch/internal/config"
	"github.com/picklereef/pi-touch/internal/logger"
	"github.com/picklereef/pi-touch/internal/mqttbridge"
	"github.com/picklereef/pi-touch/internal/server"
	"github.com/picklereef/pi-touch/internal/store"
	"github.com/picklereef/pi-touch/pkg/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("reefd", version.Full())
		os.Exit(0)
	}

	log := logger.FromEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("using default configuration")
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to open database")
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mqtt := mqttbridge.New(cfg.MQTTBrokerURL(), cfg.MQTTTopicPrefix, st, log)
	if err := mqtt.Start(); err != nil {
		log.Warn().Err(err).Msg("MQTT bridge unavailable")
	} else {
		defer mqtt.Stop()
	}

	srv := server.New(cfg, st, log)
	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
