package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_Validate_Defaults(t *testing.T) {
	opts := &Options{SecretField: "totp_secret"}

	require.NoError(t, opts.Validate())

	assert.Equal(t, 30, opts.RememberMeDays)
	assert.Equal(t, 10*time.Minute, opts.PendingTTL)
}

func TestOptions_Validate_RequiresSecretField(t *testing.T) {
	opts := &Options{}

	assert.Error(t, opts.Validate())
}

func TestOptions_Validate_NegativeWindowFallsBack(t *testing.T) {
	opts := &Options{SecretField: "totp_secret", TimeStepWindow: -3}

	require.NoError(t, opts.Validate())
	assert.Equal(t, 1, opts.TimeStepWindow)
}

func TestPasskeyOptions_Validate_Origin(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		wantErr bool
	}{
		{name: "bare https origin", origin: "https://example.com"},
		{name: "origin with port", origin: "http://localhost:8080"},
		{name: "empty", origin: "", wantErr: true},
		{name: "trailing slash", origin: "https://example.com/", wantErr: true},
		{name: "with path", origin: "https://example.com/app", wantErr: true},
		{name: "no scheme", origin: "example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := &Options{
				SecretField: "totp_secret",
				Passkeys:    &PasskeyOptions{ExpectedOrigin: tt.origin},
			}

			err := opts.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPasskeyOptions_Validate_DerivesRPID(t *testing.T) {
	opts := &Options{
		SecretField: "totp_secret",
		Passkeys:    &PasskeyOptions{ExpectedOrigin: "https://auth.example.com"},
	}

	require.NoError(t, opts.Validate())

	assert.Equal(t, "auth.example.com", opts.Passkeys.RPID)
	assert.Equal(t, "auth.example.com", opts.Passkeys.RPName)
	assert.Equal(t, "platform", opts.Passkeys.AuthenticatorAttachment)
	assert.Equal(t, "required", opts.Passkeys.UserVerification)
	assert.Equal(t, "5d", opts.Passkeys.SuggestionPeriod)
	assert.Equal(t, 5*time.Minute, opts.Passkeys.ChallengeTTL)
}

func TestPasskeyOptions_Validate_RejectsUnknownEnums(t *testing.T) {
	opts := &Options{
		SecretField: "totp_secret",
		Passkeys: &PasskeyOptions{
			ExpectedOrigin:          "https://example.com",
			AuthenticatorAttachment: "usb",
		},
	}
	assert.Error(t, opts.Validate())

	opts = &Options{
		SecretField: "totp_secret",
		Passkeys: &PasskeyOptions{
			ExpectedOrigin:   "https://example.com",
			UserVerification: "preferred",
		},
	}
	assert.Error(t, opts.Validate())
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "5d", want: 5 * 24 * time.Hour},
		{in: "12h", want: 12 * time.Hour},
		{in: "90m", want: 90 * time.Minute},
		{in: "45s", want: 45 * time.Second},
		{in: "", want: 0},
		{in: "5w", wantErr: true},
		{in: "d5", wantErr: true},
		{in: "5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePeriod(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOptions_Issuer(t *testing.T) {
	opts := &Options{BrandName: "Acme"}
	assert.Equal(t, "Acme", opts.Issuer())

	opts.IssuerPrefix = "  Acme Admin  "
	assert.Equal(t, "Acme Admin", opts.Issuer())
}
