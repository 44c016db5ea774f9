// Command magic-eye-mirror serves a live autostereogram of a camera feed,
// a folder of images or a synthetic scene to the browser.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/namuol/magic-eye-mirror/appconfig"
	"github.com/namuol/magic-eye-mirror/auth"
	"github.com/namuol/magic-eye-mirror/depth"
	"github.com/namuol/magic-eye-mirror/pipeline"
	"github.com/namuol/magic-eye-mirror/renderer"
	"github.com/namuol/magic-eye-mirror/stereogram"
	"github.com/namuol/magic-eye-mirror/stream"
)

// statsEvery limits stats events to a few per second.
const statsEvery = 10

func main() {
	configPath := flag.String("config", appconfig.DefaultPath(), "path to config.json")
	addr := flag.String("addr", "", "listen address, overrides the config file")
	noBrowser := flag.Bool("no-browser", false, "do not open the viewer on startup")
	flag.Parse()

	cfg, path, err := appconfig.LoadFrom(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Using config file: %s", path)
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *noBrowser {
		cfg.NoBrowser = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, path); err != nil {
		log.Fatalf("magic-eye-mirror: %v", err)
	}
	log.Println("Magic Eye Mirror shutdown complete")
}

func run(ctx context.Context, cfg appconfig.Config, configPath string) error {
	db, err := initDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	authService := auth.NewAuthService(db, cfg.JWTSecret)
	if created, err := authService.CreateDefaultUser(); err != nil {
		return fmt.Errorf("create default user: %w", err)
	} else if created {
		log.Println("Created user \"admin\" with password \"admin\"; change it before exposing the server")
	}
	renderer.AuthMiddleware = func(h http.Handler, _ renderer.AuthRole) http.Handler {
		return authService.Middleware(h)
	}

	est, err := newEstimator(cfg)
	if err != nil {
		if errors.Is(err, depth.ErrUnavailable) {
			log.Println("The depth model is unavailable. Install it with `fetchmodel`, or set depth.mode to \"luma\" or \"scene\".")
		}
		return fmt.Errorf("depth estimator: %w", err)
	}
	defer est.Close()

	src, err := openSource(ctx, cfg)
	if err != nil {
		return fmt.Errorf("capture source: %w", err)
	}
	if src != nil {
		defer src.Close()
	}

	snapshots, err := newSnapshotService(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("snapshots: %w", err)
	}

	controls := pipeline.NewControls(cfg.Stereogram)
	if err := pipeline.Validate(cfg.Stereogram); err != nil {
		log.Printf("warning: configured stereogram settings are out of range: %v", err)
	}
	tracker := pipeline.NewDepthTracker(src, est, controls, cfg.Width, cfg.Height)
	disp := stereogram.NewDispatcher(cfg.Workers)
	loop := pipeline.NewLoop(disp, tracker, controls, cfg.Width, cfg.Height, cfg.FPS)

	frames := stream.NewConnectionManager[[]byte]("mjpeg", 2)
	events := stream.NewConnectionManager[stream.Message]("events", 32)
	defer frames.Shutdown()
	defer events.Shutdown()
	loop.AddPresenter(&stream.FramePresenter{
		Frames:     frames,
		Events:     events,
		Quality:    cfg.JPEGQuality,
		StatsEvery: statsEvery,
	})

	deps := &Dependencies{
		Config:     cfg,
		ConfigPath: configPath,
		Controls:   controls,
		Loop:       loop,
		Depth:      tracker,
		Frames:     frames,
		Events:     events,
		Snapshots:  snapshots,
		Auth:       authService,
		Started:    time.Now(),
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           routes(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("Rendering %dx%d at %d fps with %d workers, depth: %s",
		cfg.Width, cfg.Height, cfg.FPS, disp.Workers(), cfg.Depth.Mode)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tracker.Run(gctx) })
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error {
		log.Printf("Listening on http://%s/", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down HTTP server...")
		// Streaming clients never finish on their own.
		frames.Shutdown()
		events.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		return nil
	})

	if !cfg.NoBrowser {
		go func() {
			if err := browser.OpenURL(viewerURL(cfg.Addr)); err != nil {
				log.Printf("Could not open browser: %v", err)
			}
		}()
	}

	return g.Wait()
}

// viewerURL turns a listen address into a URL a local browser can open.
func viewerURL(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}
