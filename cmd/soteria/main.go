package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	"github.com/soteria-auth/soteria/adapters/events"
	"github.com/soteria-auth/soteria/adapters/hostauth"
	"github.com/soteria-auth/soteria/adapters/store"
	"github.com/soteria-auth/soteria/adapters/tokenizer"
	"github.com/soteria-auth/soteria/core"
	"github.com/soteria-auth/soteria/internal/config"
	"github.com/soteria-auth/soteria/internal/logger"
	"github.com/soteria-auth/soteria/ports"
	"github.com/soteria-auth/soteria/service"
	"github.com/soteria-auth/soteria/transport/http"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)

	signKey, err := loadSignKey(cfg.Signing.KeyFile)
	if err != nil {
		log.Fatal("failed to load signing key", "error", err.Error())
	}

	opts := cfg.Options()
	if err := opts.Validate(); err != nil {
		log.Fatal("invalid options", "error", err.Error())
	}

	var (
		users       ports.UserStore
		credentials ports.CredentialStore
		consumed    ports.ConsumedTokenStore
		eventPub    ports.EventPublisher
	)

	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal("failed to parse redis URL", "error", err.Error())
		}
		redisClient := redis.NewClient(redisOpts)

		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: redisClient},
			watermill.NewStdLogger(false, false),
		)
		if err != nil {
			log.Fatal("failed to create redis publisher", "error", err.Error())
		}

		redisStore := store.NewRedisStore(redisClient)
		users, credentials, consumed = redisStore, redisStore, redisStore
		eventPub = events.NewWatermillPublisher(publisher)
	} else {
		log.Info("no redis URL configured, using in-memory stores")
		memStore := store.NewMemoryStore()
		users, credentials, consumed = memStore, memStore, memStore
		eventPub = events.NewWatermillPublisher(
			gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false)),
		)

		// Demo seed so the binary is usable out of the box.
		memStore.PutUser(core.User{ID: "demo", Username: "demo", DisplayName: "Demo User"})
	}

	primary := hostauth.NewPasswordAuth(users, nil)
	if password := os.Getenv("DEMO_PASSWORD"); password != "" {
		if err := primary.SetPassword("demo", password); err != nil {
			log.Fatal("failed to seed demo password", "error", err.Error())
		}
	}

	tok := tokenizer.NewJWTTokenizer(signKey)
	sessions := hostauth.NewCookieSessions(users, signKey, false)

	var passkeys *service.PasskeyManager
	if opts.Passkeys != nil {
		passkeys, err = service.NewPasskeyManager(opts.Passkeys, users, credentials, tok, consumed, eventPub, log)
		if err != nil {
			log.Fatal("failed to create passkey manager", "error", err.Error())
		}
	}

	policy := service.NewSkipPolicy(nil, nil, credentials)
	totpEngine := service.NewTOTPEngine(opts.TimeStepWindow)
	orchestrator := service.NewOrchestrator(opts, totpEngine, passkeys, policy, users, tok, consumed, eventPub, log)

	router := http.SetupRouter(orchestrator, passkeys, opts, primary, sessions, log)

	log.Info("starting server", "addr", cfg.HTTP.Addr)
	if err := router.Run(cfg.HTTP.Addr); err != nil {
		log.Fatal("server stopped", "error", err.Error())
	}
}

// loadSignKey reads an EC private key in PEM form, or generates an ephemeral
// one when no file is configured. Ephemeral keys invalidate all outstanding
// tokens on restart.
func loadSignKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}

	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse EC private key: %w", err)
	}

	return key, nil
}
