package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/mkang/shadowclip/internal/config"
	"github.com/mkang/shadowclip/internal/ffmpeg"
	"github.com/mkang/shadowclip/internal/jobs"
	"github.com/mkang/shadowclip/internal/persistence"
	"github.com/mkang/shadowclip/internal/template"
	"github.com/mkang/shadowclip/internal/tts"
	"github.com/mkang/shadowclip/pkg/file"
	"github.com/mkang/shadowclip/pkg/icron"
	"github.com/mkang/shadowclip/pkg/log"
)

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))

	runner, err := ffmpeg.NewRunner(cfg.Render.FfmpegPath, cfg.Render.FfprobePath, cfg.Render.Timeout())
	if err != nil {
		log.Fatal("Encoder tools unavailable: %v", err)
	}

	var synth tts.Synthesizer
	if cfg.TTS.Command != "" {
		cmdSynth, err := tts.NewCommandSynthesizer(cfg.TTS.Command, cfg.TTS.DefaultVoice)
		if err != nil {
			log.Warn("TTS disabled: %v", err)
		} else {
			synth = cmdSynth
		}
	}

	templates := template.NewEngine()
	if cfg.Render.TemplateCatalog != "" {
		if err := templates.LoadCatalog(cfg.Render.TemplateCatalog); err != nil {
			log.Fatal("Failed to load template catalog %s: %v", cfg.Render.TemplateCatalog, err)
		}
		log.Info("Loaded template catalog %s", cfg.Render.TemplateCatalog)
	}

	if err := os.MkdirAll(cfg.Render.ScratchRoot, 0755); err != nil {
		log.Fatal("Failed to create scratch root %s: %v", cfg.Render.ScratchRoot, err)
	}

	store, err := persistence.NewSQLiteStore(cfg.Jobs.DBPath)
	if err != nil {
		log.Fatal("Failed to open job store %s: %v", cfg.Jobs.DBPath, err)
	}
	defer store.Close()

	monitor := jobs.NewResourceMonitor(cfg.Render.ScratchRoot, cfg.Jobs.MinFreeDiskGB, cfg.Jobs.MaxMemoryPercent)
	renderer := jobs.NewClipRenderer(runner, synth, templates, monitor,
		cfg.Render.ScratchRoot, cfg.Render.OutputRoot, cfg.Jobs.ResumeEnabled)
	coordinator := jobs.NewCoordinator(renderer, store, jobs.Options{
		Workers:     cfg.Jobs.MaxWorkers,
		RenderSlots: cfg.Jobs.RenderSlots,
		Resume:      cfg.Jobs.ResumeEnabled,
	})
	coordinator.Start()

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Sweep.CronExpr, func() {
		sweepScratch(coordinator, cfg.Render.ScratchRoot, cfg.Sweep.TTL())
	}); err != nil {
		log.Fatal("Failed to schedule scratch sweeper: %v", err)
	}
	sweeper.Start()
	if next, err := icron.NextRun(cfg.Sweep.CronExpr, time.Now()); err == nil {
		log.Info("next scratch sweep at %s", next.Format(time.RFC3339))
	}

	log.Info("shadowclipd started: %d workers, %d render slots, templates %v",
		cfg.Jobs.MaxWorkers, cfg.Jobs.RenderSlots, templates.IDs())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	sweeper.Stop()
	coordinator.Stop()
}

// sweepScratch removes scratch directories older than ttl, skipping any job
// that is still queued or rendering.
func sweepScratch(coordinator *jobs.Coordinator, scratchRoot string, ttl time.Duration) {
	stale, err := file.FindDirsOlderThan(scratchRoot, time.Now().Add(-ttl))
	if err != nil {
		log.Warn("scratch sweep failed: %v", err)
		return
	}

	active := make(map[string]bool)
	for _, job := range coordinator.List() {
		if !job.Status.Terminal() {
			active[job.ID] = true
		}
	}

	for _, dir := range stale {
		if active[filepath.Base(dir)] {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("failed to sweep %s: %v", dir, err)
			continue
		}
		log.Info("swept stale scratch %s", dir)
	}
}
