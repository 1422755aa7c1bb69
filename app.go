package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/picklereef/pi-touch/internal/config"
	"github.com/picklereef/pi-touch/internal/mqttbridge"
	"github.com/picklereef/pi-touch/internal/server"
	"github.com/picklereef/pi-touch/internal/store"
	"github.com/picklereef/pi-touch/pkg/version"
)

// App struct holds the application state
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg config.Config
	log zerolog.Logger

	store  *store.Store
	mqtt   *mqttbridge.Bridge
	doneCh chan struct{}

	mu sync.Mutex

	// Window and lifecycle hooks, swappable in tests.
	fullscreen func(ctx context.Context)
	show       func(ctx context.Context)
	quit       func(ctx context.Context)
}

// NewApp creates a new App application struct
func NewApp(cfg config.Config, log zerolog.Logger) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		fullscreen: runtime.WindowFullscreen,
		show:       runtime.WindowShow,
		quit:       runtime.Quit,
	}
}

// startup is called when the app starts. The window setup is best-effort:
// on a headless bench setup there is no window to manage and the backend
// must still come up.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	if ctx != nil {
		a.fullscreen(ctx)
		a.show(ctx)
	}

	if err := a.startBackend(ctx); err != nil {
		a.log.Error().Err(err).Msg("backend failed to start")
	}
}

// startBackend opens the store and brings up the API server and the MQTT
// bridge in the background.
func (a *App) startBackend(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store != nil {
		return nil
	}

	st, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.store = st

	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	srv := server.New(a.cfg, st, a.log)
	a.doneCh = make(chan struct{})
	go func() {
		defer close(a.doneCh)
		if err := srv.Run(serverCtx); err != nil {
			a.log.Error().Err(err).Msg("API server stopped")
		}
	}()

	a.mqtt = mqttbridge.New(a.cfg.MQTTBrokerURL(), a.cfg.MQTTTopicPrefix, st, a.log)
	if err := a.mqtt.Start(); err != nil {
		a.log.Warn().Err(err).Msg("MQTT bridge unavailable")
		a.mqtt = nil
	}

	return nil
}

// shutdown is called when the app is closing
func (a *App) shutdown(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	if a.doneCh != nil {
		<-a.doneCh
	}
	if a.mqtt != nil {
		a.mqtt.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("database close failed")
		}
		a.store = nil
	}
}

// Greet returns a greeting for the given name
func (a *App) Greet(name string) string {
	return fmt.Sprintf("Hello, %s! You've been greeted from Rust!", name)
}

// ExitApp closes the application.
func (a *App) ExitApp() {
	a.quit(a.ctx)
}

// GetVersion returns the build version information for the about page.
func (a *App) GetVersion() version.Info {
	return version.GetInfo()
}

// BackendURL returns the local API base URL the frontend talks to.
func (a *App) BackendURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", a.cfg.APIPort)
}

// webviewEnv returns the environment overrides the embedded webview needs on
// the given platform. On Raspberry Pi the WebKit DMA-BUF renderer produces a
// blank window, so it is disabled before the webview initializes.
func webviewEnv(goos string) map[string]string {
	if goos != "linux" {
		return nil
	}
	return map[string]string{
		"WEBKIT_DISABLE_DMABUF_RENDERER": "1",
	}
}
