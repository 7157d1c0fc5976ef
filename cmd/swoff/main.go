package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/ericselin/swoff"
	"github.com/ericselin/swoff/cache"
	"github.com/ericselin/swoff/pkg/fetch"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFlag         string
	originFlag         string
	hostFlag           string
	storeFlag          string
	portFlag           int
	dbFilenameFlag     string
	redisFlag          string
	timeoutFlag        time.Duration
	offlineFlag        bool
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "swoff.yml", "Config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL (overrides config)")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin (overrides config)")
	flag.StringVar(&storeFlag, "store", "", "Store name (overrides config)")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&dbFilenameFlag, "db", "swoff.db", "Cache DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&redisFlag, "redis", "", "Redis address to store entries in (overrides db)")
	flag.DurationVar(&timeoutFlag, "timeout", swoff.DefaultTimeout, "Network timeout before using the cache")
	flag.BoolVar(&offlineFlag, "offline", false, "Start offline, i.e. answer from the cache only")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	config, err := swoff.LoadConfig(configFlag)
	if err != nil {
		log.Fatal().Err(err).Str("file", configFlag).Msg("Could not read config")
	}
	if originFlag != "" {
		config.Origin = originFlag
	}
	if hostFlag != "" {
		config.Host = hostFlag
	}
	if storeFlag != "" {
		config.StoreName = storeFlag
	}
	originURL, err := config.OriginURL()
	if err != nil {
		log.Fatal().Err(err).Msg("Please specify origin")
	}

	provider, closeProvider := openProvider()
	defer closeProvider()

	// the fetcher talks to the origin directly
	var transport http.RoundTripper
	if config.Host != "" {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName: config.Host,
			},
		}
	}
	fetcher := fetch.NewHTTPFetcher(transport)
	fetcher.Host = config.Host

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	offline := &swoff.OfflineSwitch{}
	offline.SetOffline(offlineFlag)

	engine, err := swoff.New(swoff.Config{
		StoreName:    config.StoreName,
		OriginURL:    originURL,
		Policies:     config.URLs,
		Timeout:      timeoutFlag,
		Cache:        provider,
		Fetcher:      fetcher,
		Connectivity: offline,
		Metrics:      swoff.NewMetrics(registry),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create engine")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := engine.OnInstall(ctx); err != nil {
		log.Fatal().Err(err).Msg("Could not install")
	}

	router := swoff.Router(
		swoff.NewHandler(engine, originURL),
		swoff.AdminRouter(engine, offline, registry),
		log.Logger,
	)
	server := &http.Server{Addr: fmt.Sprintf(":%d", portFlag), Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("Serving %s on port %v (store '%s')", originURL.String(), portFlag, config.StoreName)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// openProvider picks redis if an address is given, sqlite otherwise.
func openProvider() (cache.CacheProvider, func()) {
	if redisFlag != "" {
		redisCache := cache.NewRedisCache(redisFlag, os.Getenv("SWOFF_REDIS_PASSWORD"), 0)
		log.Info().Str("addr", redisFlag).Msg("Using redis cache")
		return redisCache, func() { redisCache.Close() }
	}
	dbFilename := dbFilenameFlag
	if dbFilename == "memory" {
		dbFilename = ""
	}
	sqliteCache, err := cache.NewSQLiteCache(dbFilename)
	if err != nil {
		log.Fatal().Err(err).Str("db", dbFilenameFlag).Msg("Could not open cache db")
	}
	log.Info().Str("db", dbFilenameFlag).Msg("Using sqlite cache")
	return sqliteCache, func() { sqliteCache.Close() }
}
