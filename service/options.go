package service

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/soteria-auth/soteria/core"
)

// Predicate decides a per-user policy question. Predicates must be pure:
// same user view in, same answer out.
type Predicate func(user core.User) bool

// Options is the recognized configuration surface of the step-up engine.
// Invalid options are fatal at construction time and never user-facing.
type Options struct {
	// SecretField is the name of the user-store field holding the TOTP
	// secret. Required.
	SecretField string

	// TimeStepWindow is the verification drift allowance in 30s steps on
	// either side of now. Negative values fall back to the default of 1.
	TimeStepWindow int

	// IssuerPrefix overrides BrandName as the TOTP issuer shown in
	// authenticator apps.
	IssuerPrefix string
	BrandName    string

	// RememberMeDays is the session length for remembered logins.
	// Unremembered logins get one day. Defaults to 30.
	RememberMeDays int

	// PendingTTL bounds the whole step-up flow; the confirmation token and
	// its cookie lapse after this. Defaults to 10 minutes.
	PendingTTL time.Duration

	// UsersFilterToApply reports whether 2FA applies to a user at all.
	// Nil means "always applies".
	UsersFilterToApply Predicate

	// UsersFilterToAllowSkipSetup reports whether a user may skip
	// enrollment. Nil means "never". The answer is force-denied once the
	// user has any enrolled factor.
	UsersFilterToAllowSkipSetup Predicate

	Passkeys *PasskeyOptions
}

// PasskeyOptions configures the WebAuthn side of the engine.
type PasskeyOptions struct {
	RPName string
	// RPID is the relying-party domain, e.g. "example.com".
	RPID string
	// ExpectedOrigin must be a bare origin, e.g. "https://example.com".
	ExpectedOrigin string

	// AuthenticatorAttachment is "platform", "cross-platform" or "both".
	// Defaults to "platform".
	AuthenticatorAttachment string
	RequireResidentKey      bool
	// UserVerification is "required" or "discouraged". Defaults to
	// "required".
	UserVerification string

	// SuggestionPeriod throttles the client's "add a passkey?" prompt,
	// e.g. "5d", "12h". Defaults to "5d".
	SuggestionPeriod string

	// ChallengeTTL bounds a single ceremony. Defaults to 5 minutes.
	ChallengeTTL time.Duration

	// AllowDirectLogin enables the passkey-only login endpoint that
	// bypasses the password entirely.
	AllowDirectLogin bool

	// Field names in the host user store used to build the WebAuthn user
	// entity.
	UserNameField        string
	UserDisplayNameField string
}

const (
	defaultTimeStepWindow = 1
	defaultRememberDays   = 30
	defaultPendingTTL     = 10 * time.Minute
	defaultChallengeTTL   = 5 * time.Minute
)

var periodPattern = regexp.MustCompile(`^(\d+)([dhms])$`)

// ParsePeriod parses a duration of the form "N[dhms]", e.g. "5d" or "90m".
func ParsePeriod(period string) (time.Duration, error) {
	if period == "" {
		return 0, nil
	}

	match := periodPattern.FindStringSubmatch(strings.TrimSpace(period))
	if match == nil {
		return 0, fmt.Errorf("invalid period format: %q", period)
	}

	value, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, fmt.Errorf("invalid period value: %q", period)
	}

	switch match[2] {
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	case "h":
		return time.Duration(value) * time.Hour, nil
	case "m":
		return time.Duration(value) * time.Minute, nil
	default: // "s", guaranteed by the pattern
		return time.Duration(value) * time.Second, nil
	}
}

// Validate checks required options and fills defaults. It mutates the
// receiver so the engine reads settled values only.
func (o *Options) Validate() error {
	if o.SecretField == "" {
		return fmt.Errorf("secret field name is required")
	}

	if o.TimeStepWindow < 0 {
		o.TimeStepWindow = defaultTimeStepWindow
	}
	if o.RememberMeDays <= 0 {
		o.RememberMeDays = defaultRememberDays
	}
	if o.PendingTTL <= 0 {
		o.PendingTTL = defaultPendingTTL
	}

	if o.Passkeys != nil {
		if err := o.Passkeys.validate(); err != nil {
			return err
		}
	}

	return nil
}

func (o *PasskeyOptions) validate() error {
	if o.ExpectedOrigin == "" {
		return fmt.Errorf("passkeys: expected origin is required")
	}

	// A bare origin round-trips through the URL parser unchanged.
	parsed, err := url.Parse(o.ExpectedOrigin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("passkeys: expected origin %q is not a valid origin", o.ExpectedOrigin)
	}
	if parsed.Scheme+"://"+parsed.Host != o.ExpectedOrigin {
		return fmt.Errorf("passkeys: expected origin %q must be a bare origin", o.ExpectedOrigin)
	}

	if o.RPID == "" {
		o.RPID = parsed.Hostname()
	}
	if o.RPName == "" {
		o.RPName = o.RPID
	}

	switch o.AuthenticatorAttachment {
	case "":
		o.AuthenticatorAttachment = "platform"
	case "platform", "cross-platform", "both":
	default:
		return fmt.Errorf("passkeys: unknown authenticator attachment %q", o.AuthenticatorAttachment)
	}

	switch o.UserVerification {
	case "":
		o.UserVerification = "required"
	case "required", "discouraged":
	default:
		return fmt.Errorf("passkeys: unknown user verification %q", o.UserVerification)
	}

	if o.SuggestionPeriod == "" {
		o.SuggestionPeriod = "5d"
	}
	if _, err := ParsePeriod(o.SuggestionPeriod); err != nil {
		return fmt.Errorf("passkeys: %w", err)
	}

	if o.ChallengeTTL <= 0 {
		o.ChallengeTTL = defaultChallengeTTL
	}

	if o.UserNameField == "" {
		o.UserNameField = "username"
	}

	return nil
}

// Issuer returns the TOTP issuer label: the configured prefix when set,
// otherwise the brand name.
func (o *Options) Issuer() string {
	if prefix := strings.TrimSpace(o.IssuerPrefix); prefix != "" {
		return prefix
	}
	return o.BrandName
}
