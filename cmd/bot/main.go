package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"amnezia-bot/internal/backup"
	"amnezia-bot/internal/config"
	"amnezia-bot/internal/dialog"
	"amnezia-bot/internal/logger"
	"amnezia-bot/internal/payments"
	"amnezia-bot/internal/promo"
	"amnezia-bot/internal/provisioning"
	"amnezia-bot/internal/reports"
	"amnezia-bot/internal/roster"
	"amnezia-bot/internal/scheduler"
	"amnezia-bot/internal/session"
	"amnezia-bot/internal/store"
	"amnezia-bot/internal/subscription"
	"amnezia-bot/internal/telegram"
	"amnezia-bot/internal/web"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %s", err)
	}
	lg := logger.New(cfg.App.Env)

	if cfg.Telegram.Token == "" {
		log.Fatal("telegram.token is required")
	}

	st, err := store.New(cfg.Storage.Dir)
	if err != nil {
		log.Fatalf("failed to open store: %s", err)
	}
	bindings := store.NewCollection[int64](st, "user_telegram")

	ros, err := roster.New(st, cfg.Telegram.AdminIDs)
	if err != nil {
		log.Fatalf("failed to open roster: %s", err)
	}

	var prov provisioning.Provisioner
	switch cfg.WireGuard.Mode {
	case "local":
		prov, err = provisioning.NewLocal(st, bindings,
			cfg.WireGuard.Interface, cfg.WireGuard.Endpoint, cfg.WireGuard.DNS, lg)
	case "ssh":
		prov, err = provisioning.NewRemote(st, bindings, provisioning.RemoteConfig{
			Addr:     cfg.WireGuard.SSHAddr,
			User:     cfg.WireGuard.SSHUser,
			KeyPath:  cfg.WireGuard.SSHKey,
			Device:   cfg.WireGuard.Interface,
			Endpoint: cfg.WireGuard.Endpoint,
			DNS:      cfg.WireGuard.DNS,
			Subnet:   cfg.WireGuard.Subnet,
		}, lg)
	default:
		prov = provisioning.NewDev(bindings, lg)
	}
	if err != nil {
		log.Fatalf("failed to create provisioner: %s", err)
	}
	defer prov.Close()

	ledger := subscription.NewLedger(st, bindings, prov, lg)
	promos := promo.NewEngine(st, lg)
	pricing := payments.NewPricing(st)

	var oracle payments.Oracle
	if cfg.YooKassa.Fake {
		fake := payments.NewFakeOracle()
		fake.AutoSettle = true
		oracle = fake
	} else {
		oracle = payments.NewYooKassa(
			cfg.YooKassa.ShopID, cfg.YooKassa.SecretKey, cfg.YooKassa.ReturnURL)
	}
	pays := payments.NewLedger(st, oracle, pricing, ledger, lg)

	var sessions session.Store
	if cfg.Session.Backend == "redis" {
		sessions, err = session.NewRedis(cfg.Session.RedisAddr, cfg.Session.TTL)
		if err != nil {
			log.Fatalf("failed to connect session store: %s", err)
		}
	} else {
		sessions = session.NewMemory(cfg.Session.TTL)
	}

	archiver, err := backup.New(cfg.Storage.Dir, cfg.Storage.BackupDir)
	if err != nil {
		log.Fatalf("failed to create archiver: %s", err)
	}
	reporter, err := reports.New(ledger, cfg.Storage.BackupDir)
	if err != nil {
		log.Fatalf("failed to create reporter: %s", err)
	}

	machine := dialog.NewMachine(dialog.Deps{
		Sessions: sessions,
		Roster:   ros,
		Ledger:   ledger,
		Promos:   promos,
		Payments: pays,
		Pricing:  pricing,
		Prov:     prov,
		Backup:   archiver,
		Reports:  reporter,
		Log:      lg,
	})

	bot, err := telegram.NewBot(cfg.Telegram.Token, machine, ros, lg)
	if err != nil {
		log.Fatalf("failed to create telegram bot: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs := scheduler.NewService(ledger, pays, prov, bot, scheduler.Intervals{
		Expire:    cfg.Scheduler.ExpireEvery,
		Reconcile: cfg.Scheduler.ReconcileEvery,
		Peers:     cfg.Scheduler.PeersEvery,
	}, lg)
	jobs.Start(ctx)

	srv := web.New(cfg.HTTP.Addr, cfg.Metrics.Enabled, lg)
	srv.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := bot.Run(ctx); err != nil {
			lg.Error("bot stopped", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	lg.Info("graceful shutdown", "signal", sig.String())

	jobs.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		lg.Error("http shutdown failed", "err", err)
	}
	<-done
}
