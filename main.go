package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"gopkg.in/natefinch/lumberjack.v2"

	"bridgarr/api"
	"bridgarr/config"
	"bridgarr/handlers"
	"bridgarr/internal/database"
	"bridgarr/services/acquisition"
	"bridgarr/services/linkcache"
	"bridgarr/services/scheduler"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	// Determine config path (env or default)
	configPath := os.Getenv("BRIDGARR_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("data", "settings.json")
	}

	// Init config manager and load settings (creates defaults if missing)
	cfgManager := config.NewManager(configPath)
	if err := cfgManager.EnsureDir(); err != nil {
		log.Fatalf("failed to create config directory: %v", err)
	}
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			log.Printf("warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			// Standard log goes to both console and file.
			log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("logging to file: %s", settings.Log.File)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	db, err := database.Open(settings.Database.Path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	loadSettings := func() (config.Settings, error) { return cfgManager.Load() }

	acquisitionService := acquisition.NewService(db, loadSettings, nil,
		acquisition.OptionsFromSettings(settings.Engine))
	linkcacheService := linkcache.NewService(db, loadSettings, nil,
		linkcache.OptionsFromSettings(settings.Engine))
	schedulerService := scheduler.NewService(cfgManager, linkcacheService, acquisitionService)

	if err := schedulerService.Start(context.Background()); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	getAPIKey := func() string {
		s, err := cfgManager.Load()
		if err != nil {
			return settings.Server.APIKey // fallback to the initial value
		}
		return s.Server.APIKey
	}

	r := mux.NewRouter()
	engineHandler := handlers.NewEngineHandler(cfgManager, db, acquisitionService, linkcacheService)
	tasksHandler := handlers.NewTasksHandler(schedulerService)
	api.Register(r, engineHandler, tasksHandler, getAPIKey)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // acquisitions block until the poll budget runs out
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("[main] server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("[main] shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop background tasks before closing the HTTP server so in-flight
	// sweeps finish against a live database.
	if err := schedulerService.Stop(shutdownCtx); err != nil {
		log.Printf("scheduler shutdown error: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	log.Println("[main] shutdown complete")
}
