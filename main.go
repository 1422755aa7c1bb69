package main

import (
	"embed"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/linux"

	"github.com/picklereef/pi-touch/internal/config"
	"github.com/picklereef/pi-touch/internal/logger"
	"github.com/picklereef/pi-touch/pkg/version"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("Pickle Reef", version.Full())
		os.Exit(0)
	}

	log := logger.FromEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("using default configuration")
	}

	// The webview reads its environment at initialization, so overrides
	// must land before wails.Run.
	for key, value := range webviewEnv(runtime.GOOS) {
		if err := os.Setenv(key, value); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to set webview environment")
		}
	}

	app := NewApp(cfg, log)

	err = wails.Run(&options.App{
		Title:      "Pickle Reef",
		Width:      800,
		Height:     480,
		Fullscreen: true,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 12, G: 22, B: 30, A: 1},
		OnStartup:        app.startup,
		OnShutdown:       app.shutdown,
		Bind: []interface{}{
			app,
		},
		Linux: &linux.Options{
			WindowIsTranslucent: false,
		},
	})

	if err != nil {
		log.Fatal().Err(err).Msg("application failed")
	}
}
