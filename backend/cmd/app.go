package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"presence/backend/geoip"
	"presence/backend/hub"
	"presence/backend/registry"
	httpServer "presence/backend/server/http"
	websocketServer "presence/backend/server/websocket"
	"presence/backend/service"
)

// config defaults come from the environment; flags override.
type config struct {
	APIListenAddr string        `env:"PRESENCE_API_LISTEN_ADDR" envDefault:":4000"`
	WSListenAddr  string        `env:"PRESENCE_WS_LISTEN_ADDR" envDefault:":4001"`
	LogLevel      string        `env:"PRESENCE_LOG_LEVEL" envDefault:"debug"`
	StaticDir     string        `env:"PRESENCE_STATIC_DIR"`
	GeoBaseURL    string        `env:"PRESENCE_GEO_URL" envDefault:"http://ip-api.com/json"`
	GeoTimeout    time.Duration `env:"PRESENCE_GEO_TIMEOUT" envDefault:"3s"`
	GeoCacheTTL   time.Duration `env:"PRESENCE_GEO_CACHE_TTL" envDefault:"1h"`
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse environment")
	}

	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)
	var (
		apiListenAddr = fs.StringP("api-listen-addr", "a", cfg.APIListenAddr, "api and event stream listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", cfg.WSListenAddr, "websocket transport listen address")
		logLevel      = fs.StringP("log-level", "l", cfg.LogLevel, "log level")
		staticDir     = fs.StringP("static-dir", "s", cfg.StaticDir, "directory with frontend assets, empty disables serving")
		geoBaseURL    = fs.String("geo-url", cfg.GeoBaseURL, "geolocation provider base url")
		geoTimeout    = fs.Duration("geo-timeout", cfg.GeoTimeout, "geolocation lookup timeout")
		geoCacheTTL   = fs.Duration("geo-cache-ttl", cfg.GeoCacheTTL, "geolocation cache ttl")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)
	logger.Trace().Msg(spew.Sdump(cfg))

	svc := service.NewPresence(service.Config{
		Registry: registry.New(),
		Hub:      hub.NewHub(&logger),
		Resolver: geoip.NewResolver(geoip.Config{
			Logger:   &logger,
			BaseURL:  *geoBaseURL,
			Timeout:  *geoTimeout,
			CacheTTL: *geoCacheTTL,
		}),
		Logger: &logger,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:          &logger,
		PresenceService: svc,
		ListenAddr:      *apiListenAddr,
		StaticDir:       *staticDir,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:          &logger,
		PresenceService: svc,
		ListenAddr:      *wsListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
