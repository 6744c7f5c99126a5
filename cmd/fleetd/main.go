package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	v1 "sessionfleet/api/v1"
	"sessionfleet/internal/auth"
	"sessionfleet/internal/cache"
	"sessionfleet/internal/config"
	"sessionfleet/internal/db"
	"sessionfleet/internal/engine"
	"sessionfleet/internal/heartbeat"
	"sessionfleet/internal/keepalive"
	"sessionfleet/internal/notify"
	"sessionfleet/internal/otp"
	"sessionfleet/internal/pause"
	"sessionfleet/internal/protocol"
	"sessionfleet/internal/secret"
	"sessionfleet/internal/session"
	"sessionfleet/internal/store"
)

func main() {
	configPath := flag.String("config", "", "optional INI config file (env vars still win)")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.NewEntry(logrus.StandardLogger())

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	gdb, err := db.Open(cfg.MySQL.DSN)
	if err != nil {
		log.Fatalf("failed to initialize MySQL: %v", err)
	}
	defer db.Close(gdb)
	if cfg.Migrate {
		if err := db.Migrate(gdb); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
	}

	rdb, err := cache.Connect(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("failed to initialize Redis: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	sealer, err := secret.NewBox(cfg.Secret.EncryptionKey, log)
	if err != nil {
		log.Fatalf("invalid encryption key: %v", err)
	}
	auth.InitJWT(cfg.JWT.Secret)

	accounts := store.New(gdb, log)
	pauses := pause.NewRegistry(rdb, time.Duration(cfg.KeepAlive.PauseTTLMinutes)*time.Minute, log)

	var (
		notifier    notify.Notifier
		botUsername string
	)
	if cfg.Bot.Token != "" {
		relay, err := notify.NewTelegramRelay(cfg.Bot.Token, cfg.Bot.OwnerID, log)
		if err != nil {
			log.Fatalf("failed to authorize control bot: %v", err)
		}
		notifier = relay
		botUsername = relay.Username()
	} else {
		log.Warn("no control bot configured, notifications and acquaintance disabled")
	}

	driver, err := protocol.Lookup(cfg.Platform.Driver)
	if err != nil {
		log.Fatalf("platform driver unavailable: %v", err)
	}
	factory := session.NewFactory(driver, accounts, log)

	sched := keepalive.NewScheduler(keepalive.Config{
		Logger:          log,
		OnlineHold:      time.Duration(cfg.KeepAlive.OnlineHoldSec) * time.Second,
		OfflineHold:     time.Duration(cfg.KeepAlive.OfflineHoldSec) * time.Second,
		Cooldown:        time.Duration(cfg.KeepAlive.CooldownSec) * time.Second,
		InitialDelayMin: time.Duration(cfg.KeepAlive.InitialDelayMinSec) * time.Second,
		InitialDelayMax: time.Duration(cfg.KeepAlive.InitialDelayMaxSec) * time.Second,
	})

	eng := engine.New(engine.Deps{
		Factory:     factory,
		Store:       accounts,
		Sealer:      sealer,
		Pauses:      pauses,
		Notifier:    notifier,
		Scheduler:   sched,
		OTP:         otp.NewUnit(pauses, log),
		BotUsername: botUsername,
		Logger:      log,
	})

	beacon := heartbeat.NewBeacon(cfg.Heartbeat.Path, time.Duration(cfg.Heartbeat.IntervalSec)*time.Second, log)
	beacon.Start()

	// Rebuild the live registry from the store without delaying startup.
	go func() {
		report := eng.BulkRestore(context.Background())
		for _, detail := range report.Errors {
			log.Warnf("restore: %s", detail)
		}
	}()

	restartCh := make(chan struct{})
	var restartOnce sync.Once
	requestRestart := func() {
		restartOnce.Do(func() { close(restartCh) })
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	v1.SetupRouter(r, v1.Deps{
		Config:         cfg,
		Engine:         eng,
		Accounts:       accounts,
		Pauses:         pauses,
		Factory:        factory,
		Sealer:         sealer,
		Logger:         log,
		RequestRestart: requestRestart,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Infof("server starting on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	restarting := false
	select {
	case <-quit:
		log.Info("shutdown signal received")
	case <-restartCh:
		restarting = true
		log.Info("controlled restart requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown failed: %v", err)
	}
	eng.StopAll(shutdownCtx)
	beacon.Stop()

	if restarting {
		// The supervisor clears the session cache on this status and
		// restarts without backoff.
		os.Exit(heartbeat.RestartExitCode)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromINI(path)
	}
	return config.Load()
}
