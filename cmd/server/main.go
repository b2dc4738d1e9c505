package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/passkey-gate/internal/audit"
	"github.com/iliyamo/passkey-gate/internal/auth"
	"github.com/iliyamo/passkey-gate/internal/challenge"
	"github.com/iliyamo/passkey-gate/internal/config"
	"github.com/iliyamo/passkey-gate/internal/database"
	"github.com/iliyamo/passkey-gate/internal/handler"
	"github.com/iliyamo/passkey-gate/internal/middleware"
	"github.com/iliyamo/passkey-gate/internal/otp"
	"github.com/iliyamo/passkey-gate/internal/passkey"
	"github.com/iliyamo/passkey-gate/internal/queue"
	"github.com/iliyamo/passkey-gate/internal/ratelimit"
	"github.com/iliyamo/passkey-gate/internal/repository"
	"github.com/iliyamo/passkey-gate/internal/router"
	queue_publisher "github.com/iliyamo/passkey-gate/internal/service"
)

func main() {
	// .env is optional; real deployments set variables directly.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.EnsureSchema(schemaCtx, db); err != nil {
		cancel()
		log.Fatalf("schema: %v", err)
	}
	cancel()

	// Repositories over the shared *sql.DB.
	users := repository.NewUserRepo(db)
	creds := repository.NewCredentialRepo(db)
	sessions := repository.NewSessionRepo(db)
	auditRepo := repository.NewAuditRepo(db)

	trail := audit.NewTrail(auditRepo)

	verifier, err := passkey.New(passkey.Config{
		RPID:     cfg.RPID,
		RPName:   cfg.RPName,
		RPOrigin: cfg.RPOrigin,
	})
	if err != nil {
		log.Fatalf("passkey: %v", err)
	}

	// One limiter instance backs both the ceremony gates and the OTP
	// throttle; keys are namespaced per purpose.
	limiter := ratelimit.New()
	window := time.Duration(cfg.RateLimitWindowSec) * time.Second

	flows := auth.NewOrchestrator(users, creds, verifier,
		challenge.NewStore(), limiter, trail, auth.Limits{
			Login:    cfg.MaxLoginAttempts,
			Register: cfg.MaxRegisterAttempts,
			Window:   window,
		})

	issuer := auth.NewIssuer(sessions, trail, cfg.JWTSecret,
		time.Duration(cfg.AccessTTLMin)*time.Minute)

	otpSvc := otp.New(trail, queue_publisher.AMQPSender{}, limiter, cfg.OTPLength,
		time.Duration(cfg.OTPTTLSec)*time.Second, otp.Limits{
			Request: cfg.MaxOTPRequests,
			Verify:  cfg.MaxOTPVerifyAttempts,
			Window:  window,
		})

	// The OTP consumer runs for the life of the process and reconnects to
	// the broker on its own.
	go func() {
		if err := queue.StartOTPConsumer(); err != nil {
			log.Printf("otp consumer stopped: %v", err)
		}
	}()

	// Expired ledger rows already fail validation; the sweep just reclaims
	// storage once an hour.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if n, err := issuer.SweepExpired(ctx); err != nil {
				log.Printf("session sweep: %v", err)
			} else if n > 0 {
				log.Printf("session sweep: removed %d expired rows", n)
			}
			cancel()
		}
	}()

	e := echo.New()

	// Transport-level flood control; degrades to a no-op when Redis is
	// unreachable. The per-identifier ceremony limits live in the core.
	if rdb := config.NewRedisClient(); rdb != nil {
		e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	} else {
		log.Println("redis unavailable; transport rate limiting disabled")
	}

	authHandler := handler.NewAuthHandler(cfg, flows, issuer, otpSvc, users, creds)
	auditHandler := handler.NewAuditHandler(trail)

	router.RegisterRoutes(e)
	router.RegisterAuth(e, authHandler, cfg.JWTSecret, issuer)
	router.RegisterAdmin(e, auditHandler, cfg.JWTSecret, issuer)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s, rp=%s)", addr, cfg.Env, cfg.RPID)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
