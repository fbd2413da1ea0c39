package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/soteria-auth/soteria/service"
)

// Config contains server configuration parameters.
type Config struct {
	LogLevel int     `env:"LOG_LEVEL" envDefault:"0"`
	HTTP     HTTP    `envPrefix:"HTTP_"`
	Redis    Redis   `envPrefix:"REDIS_"`
	Signing  Signing `envPrefix:"SIGNING_"`
	StepUp   StepUp  `envPrefix:"STEPUP_"`
	Passkey  Passkey `envPrefix:"PASSKEY_"`
}

// HTTP contains HTTP server parameters.
type HTTP struct {
	Addr string `env:"ADDR" envDefault:":8080"`
}

// Redis contains redis connection parameters. An empty URL selects the
// in-memory stores.
type Redis struct {
	URL string `env:"URL"`
}

// Signing contains token signing key parameters.
type Signing struct {
	KeyFile string `env:"KEY_FILE"`
}

// StepUp contains two-factor flow parameters.
type StepUp struct {
	BrandName      string        `env:"BRAND_NAME" envDefault:"Soteria"`
	IssuerPrefix   string        `env:"ISSUER_PREFIX"`
	TimeStepWindow int           `env:"TIME_STEP_WINDOW" envDefault:"1"`
	RememberMeDays int           `env:"REMEMBER_ME_DAYS" envDefault:"30"`
	PendingTTL     time.Duration `env:"PENDING_TTL" envDefault:"10m"`
}

// Passkey contains WebAuthn relying party parameters.
type Passkey struct {
	Enabled                 bool          `env:"ENABLED" envDefault:"true"`
	RPName                  string        `env:"RP_NAME"`
	RPID                    string        `env:"RP_ID" envDefault:"localhost"`
	ExpectedOrigin          string        `env:"EXPECTED_ORIGIN" envDefault:"http://localhost:8080"`
	AuthenticatorAttachment string        `env:"AUTHENTICATOR_ATTACHMENT" envDefault:"platform"`
	RequireResidentKey      bool          `env:"REQUIRE_RESIDENT_KEY" envDefault:"true"`
	UserVerification        string        `env:"USER_VERIFICATION" envDefault:"required"`
	SuggestionPeriod        string        `env:"SUGGESTION_PERIOD" envDefault:"5d"`
	ChallengeTTL            time.Duration `env:"CHALLENGE_TTL" envDefault:"5m"`
	AllowDirectLogin        bool          `env:"ALLOW_DIRECT_LOGIN" envDefault:"false"`
}

// NewConfig loads configuration from environment variables.
func NewConfig() (*Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// Options maps the loaded configuration onto engine options. Predicates are
// code and stay nil here; the host wires them separately.
func (c *Config) Options() *service.Options {
	opts := &service.Options{
		SecretField:    "totp_secret",
		TimeStepWindow: c.StepUp.TimeStepWindow,
		IssuerPrefix:   c.StepUp.IssuerPrefix,
		BrandName:      c.StepUp.BrandName,
		RememberMeDays: c.StepUp.RememberMeDays,
		PendingTTL:     c.StepUp.PendingTTL,
	}
	if c.Passkey.Enabled {
		opts.Passkeys = &service.PasskeyOptions{
			RPName:                  c.Passkey.RPName,
			RPID:                    c.Passkey.RPID,
			ExpectedOrigin:          c.Passkey.ExpectedOrigin,
			AuthenticatorAttachment: c.Passkey.AuthenticatorAttachment,
			RequireResidentKey:      c.Passkey.RequireResidentKey,
			UserVerification:        c.Passkey.UserVerification,
			SuggestionPeriod:        c.Passkey.SuggestionPeriod,
			ChallengeTTL:            c.Passkey.ChallengeTTL,
			AllowDirectLogin:        c.Passkey.AllowDirectLogin,
		}
	}
	return opts
}
