// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/FormatLab/FormatLabStudio/internal/api"
	"github.com/FormatLab/FormatLabStudio/internal/app"
	"github.com/FormatLab/FormatLabStudio/internal/config"
	"github.com/FormatLab/FormatLabStudio/internal/di"
	"github.com/FormatLab/FormatLabStudio/internal/services"
	"github.com/FormatLab/FormatLabStudio/internal/utils"
)

func main() {
	log.Printf("🚀 Starting %s...", config.AppName)

	// 1. Load the environment configuration
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	log.Printf("✅ Configuration loaded, port: %s", baseConfig.Port)

	// 2. Create the storage layout
	createDirectories(baseConfig)
	log.Println("✅ Directory structure ready")

	// 3. Initialize the runtime configuration system
	if err := config.InitConfig(baseConfig.StorageDir); err != nil {
		log.Fatalf("failed to initialize configuration system: %v", err)
	}
	log.Println("✅ Configuration system initialized")

	// 4. Route logs into the log directory
	if err := initLogger(baseConfig.LogDir); err != nil {
		log.Printf("⚠️ Logger initialization warning: %v", err)
	}

	if !baseConfig.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	// 5. Initialize all services in dependency order
	if err := app.InitServices(); err != nil {
		log.Fatalf("failed to initialize services: %v", err)
	}
	log.Println("✅ Services initialized")

	// 6. Generation runs push timeline events to websocket clients
	container := di.GetContainer()
	if generationService, ok := container.Get("generation").(*services.GenerationService); ok {
		generationService.SetNotifier(api.TimelineHubNotifier{})
	}

	if err := performHealthCheck(); err != nil {
		log.Printf("⚠️ Service health check warning: %v", err)
	}

	// 7. Set up routes, services only come from the container
	router, err := api.SetupRouter()
	if err != nil {
		log.Fatalf("❌ failed to set up routes: %v", err)
	}
	log.Println("✅ Routes configured")

	log.Printf("🌐 Server listening on port %s", baseConfig.Port)
	log.Printf("🔗 API base: http://localhost:%s/v1", baseConfig.Port)
	log.Printf("🔗 Health: http://localhost:%s/v1/health", baseConfig.Port)

	setupGracefulShutdown(router, baseConfig.Host, baseConfig.Port)
}

// performHealthCheck verifies that the critical services registered
func performHealthCheck() error {
	container := di.GetContainer()

	criticalServices := []string{"config", "stats", "timeline", "translator", "generation", "export", "scene"}

	for _, serviceName := range criticalServices {
		if service := container.Get(serviceName); service == nil {
			return fmt.Errorf("critical service not registered: %s", serviceName)
		}
	}

	log.Println("✅ Service health check passed")
	return nil
}

// setupGracefulShutdown serves until interrupted, then drains in-flight
// requests before exiting
func setupGracefulShutdown(router *gin.Engine, host, port string) {
	srv := &http.Server{
		Addr:    host + ":" + port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("❌ forced server shutdown: %v", err)
	}

	app.Cleanup()

	log.Println("✅ Server shut down cleanly")
}

// createDirectories builds the directory layout the services expect
func createDirectories(cfg *config.Config) {
	dirs := []string{
		cfg.StorageDir,
		filepath.Join(cfg.StorageDir, "uploads"),
		filepath.Join(cfg.StorageDir, "outputs"),
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("failed to create directory %s: %v", dir, err)
		}
	}
}

// initLogger points the structured logger at a dated file in the log
// directory
func initLogger(logDir string) error {
	logFile := filepath.Join(logDir, fmt.Sprintf("studio_%s.log", time.Now().UTC().Format("2006-01-02")))
	return utils.InitLogger(logFile)
}
