package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/telewatch/internal/simulator"
	"github.com/okian/telewatch/pkg/logger"
)

// Default configuration constants.
const (
	defaultAddr         = ":9090"
	defaultDevice       = "wearable-1"
	defaultInterval     = time.Second
	defaultFallChance   = 0.01
	readHeaderTimeout   = 5 * time.Second
	shutdownGracePeriod = 5 * time.Second
)

func main() {
	var (
		addr       = flag.String("addr", defaultAddr, "Listen address of the simulated API")
		device     = flag.String("device", defaultDevice, "Device ID to generate readings for")
		apiKey     = flag.String("key", "", "Require this value in X-M2X-KEY (empty disables the check)")
		interval   = flag.Duration("interval", defaultInterval, "Time between generated readings")
		fallChance = flag.Float64("fall-chance", defaultFallChance, "Probability of a fall on each reading")
		seed       = flag.Uint64("seed", 0, "Seed for reproducible readings (0 picks a random seed)")
		logFormat  = flag.String("log-format", logger.FormatText, "Log format: text or json")
		verbose    = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	if err := logger.InitWith(os.Stdout, *logFormat); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}
	log := logger.Get().Named("m2x-sim")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := simulator.NewStore()

	genOpts := []simulator.GeneratorOption{simulator.WithFallChance(*fallChance)}
	if *seed != 0 {
		genOpts = append(genOpts, simulator.WithSeed(*seed))
	}
	gen := simulator.NewGenerator(store, *device, genOpts...)
	go gen.Run(ctx, *interval)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           simulator.NewServer(store, simulator.WithAPIKey(*apiKey)),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "simulated M2X API listening",
			logger.String("addr", *addr),
			logger.String("device", *device),
			logger.Bool("auth", *apiKey != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "shutdown incomplete", logger.Error(err))
	}
	log.Info(shutdownCtx, "simulator stopped")
}
