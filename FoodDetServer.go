package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	adhoc "FoodDetServer/Adhoc"
	"FoodDetServer/api"
	"FoodDetServer/config"
	"FoodDetServer/detection"
	"FoodDetServer/engine"
	backend "FoodDetServer/gRPC"
	"FoodDetServer/history"
	"FoodDetServer/loader"
	"FoodDetServer/logger"
	"FoodDetServer/monitor"
	"FoodDetServer/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogMode); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Log()
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}
	if !strings.HasPrefix(strings.ToLower(cfg.LogMode), "dev") {
		gin.SetMode(gin.ReleaseMode)
	}

	cpuNum := runtime.NumCPU()
	runtime.GOMAXPROCS(cpuNum)
	log.Info("starting",
		zap.Int("cpuCores", cpuNum),
		zap.Int("workers", cfg.WorkersNum),
		zap.String("backend", cfg.InferenceBackend),
		zap.Int("httpPort", cfg.HTTPPort),
		zap.Int("rpcPort", cfg.RPCPort),
		zap.Int("metricsPort", cfg.MetricsPort))

	eng, err := engine.NewBackend(engine.ParamsFromConfig(cfg))
	if err != nil {
		log.Fatal("invalid engine configuration", zap.Error(err))
	}
	handle, err := loader.New(loader.ConfigFrom(cfg.Model), eng).Load()
	if err != nil {
		log.Fatal("no model could be loaded", zap.Error(err))
	}
	defer handle.Close()
	monitor.SetModel(string(handle.Provenance()), handle.Source())

	svc := service.New(handle, detection.ClassTable(cfg.Classes))

	var store *history.Store
	if cfg.HistoryDB != "" {
		store, err = history.Open(cfg.HistoryDB)
		if err != nil {
			log.Warn("history disabled", zap.String("path", cfg.HistoryDB), zap.Error(err))
			store = nil
		} else {
			defer store.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := monitor.StartMon(ctx, cfg.MetricsPort); err != nil {
			log.Error("metrics server", zap.Error(err))
		}
	}()

	if cfg.UseRegServer {
		ip, err := adhoc.OutboundIP()
		if err != nil {
			log.Warn("outbound ip unknown, registering loopback", zap.Error(err))
			ip = "127.0.0.1"
		}
		hb := adhoc.NewHeartbeat(cfg.RegServerHost, cfg.RegServerPort, adhoc.Instance{
			IP:         ip,
			RPCPort:    cfg.RPCPort,
			HTTPPort:   cfg.HTTPPort,
			Provenance: string(handle.Provenance()),
			Source:     handle.Source(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			hb.Run(ctx)
		}()
	} else {
		log.Info("useRegServer is false, skipping registration")
	}

	grpcServer, err := backend.StartGRPCServer(cfg.RPCPort, backend.NewServer(svc, store))
	if err != nil {
		log.Fatal("grpc server", zap.Error(err))
	}

	httpServer := api.New(svc, api.Options{
		UploadDir:    cfg.UploadDir,
		AnnotatedDir: cfg.AnnotatedDir,
		History:      store,
	}).HTTPServer(cfg.HTTPPort)
	go func() {
		log.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	wg.Wait()
	log.Info("safely exited")
}
