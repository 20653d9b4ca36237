package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"referralpay/internal/config"
	"referralpay/internal/db"
	"referralpay/internal/events"
	"referralpay/internal/handlers"
	"referralpay/internal/logging"
	"referralpay/internal/payment"
	"referralpay/internal/referral"
	"referralpay/internal/services"
	"referralpay/internal/storage"
	"referralpay/internal/store"
	"referralpay/internal/websocket"
	"referralpay/internal/workers"
)

func main() {
	cfg := config.Load()
	logging.Configure(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := db.DefaultPool
	pool.MaxOpen, pool.MaxIdle = cfg.DBMaxOpen, cfg.DBMaxIdle
	database, err := db.ConnectWithPool(ctx, cfg.DatabaseURL, pool)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect database")
	}
	defer database.Close()
	if err := db.MigrateUp(database.DB); err != nil {
		log.WithError(err).Fatal("Failed to apply migrations")
	}

	users := store.NewUserStore(database)
	pending := store.NewPendingRegistrationStore(database)
	transactions := store.NewTransactionStore(database)
	withdrawals := store.NewWithdrawalStore(database)
	kyc := store.NewKYCStore(database)
	audit := store.NewAuditStore(database)
	reconcile := store.NewReconcileStore(database)
	txRunner := db.NewTxRunner(database)
	hub := websocket.NewHub(cfg.Origins()...)

	gateway := payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	distributor := referral.NewDistributor(users, transactions, referral.Config{
		FallbackCode: cfg.MasterReferralCode,
		Currency:     cfg.Currency,
	})

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect NATS")
		}
		defer nc.Close()
		publisher = nc
	}

	var locker workers.Locker = workers.NewLocalLocker()
	if cfg.RedisURL != "" {
		rdb, err := workers.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect Redis")
		}
		defer rdb.Close()
		locker = workers.NewRedisLocker(rdb)
	}

	var uploader storage.Uploader
	if cfg.S3.Enabled() {
		s3Store, err := storage.NewS3Store(ctx, cfg.S3)
		if err != nil {
			log.WithError(err).Fatal("Failed to configure document storage")
		}
		uploader = s3Store
	} else {
		log.Warn("S3_BUCKET not set, KYC submissions are disabled")
	}

	registration := services.NewRegistrationService(txRunner, users, pending, distributor, gateway, audit, hub, publisher, services.RegistrationConfig{
		SignupFee:  cfg.SignupFee,
		Currency:   cfg.Currency,
		PendingTTL: cfg.PendingRegistrationTTL,
	})
	deposits := services.NewDepositService(txRunner, users, transactions, gateway, audit, hub, publisher, cfg.Currency)
	withdrawalService := services.NewWithdrawalService(txRunner, users, transactions, withdrawals, gateway, audit, hub, publisher, services.WithdrawalConfig{
		Fee:      cfg.WithdrawalFee,
		Minimum:  cfg.MinWithdrawal,
		Currency: cfg.Currency,
	})
	kycService := services.NewKYCService(txRunner, kyc, users, uploader, audit)
	accounts := services.NewAccountService(txRunner, users, transactions, audit, hub, publisher, cfg.Currency)

	handler := handlers.New(cfg, handlers.Deps{
		TxRunner:     txRunner,
		Users:        users,
		Transactions: transactions,
		Audit:        audit,
		Reconciler:   reconcile,
		Webhooks:     gateway,
		Registration: registration,
		Deposits:     deposits,
		Withdrawals:  withdrawalService,
		KYC:          kycService,
		Accounts:     accounts,
		Team:         services.NewTeamService(users),
		Hub:          hub,
	})

	reaper := workers.NewReaper(txRunner, pending, locker, cfg.ReaperInterval, workers.DefaultGrace)
	if err := reaper.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start reaper")
	}
	defer reaper.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(log.Fields{"addr": server.Addr, "env": cfg.AppEnv}).Info("Referral API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server error")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Shutdown error")
	}
}
