package core

import "time"

// User is a read-only view of a record in the host's user store. TOTPSecret
// is empty until the user completes TOTP enrollment.
type User struct {
	ID          string // primary key in the user store
	Username    string
	DisplayName string
	TOTPSecret  string
}

// HasTOTP reports whether the user has completed TOTP enrollment.
func (u User) HasTOTP() bool {
	return u.TOTPSecret != ""
}

// Credential is a registered passkey.
type Credential struct {
	ID     string // base64url credential id reported by the authenticator
	UserID string // owning user's primary key
	Meta   CredentialMeta
}

// CredentialMeta is the structured blob persisted alongside a credential id.
type CredentialMeta struct {
	PublicKey  string     `json:"public_key"` // base64url COSE public key
	Algorithm  int64      `json:"algorithm"`  // COSE algorithm identifier
	Counter    uint32     `json:"counter"`    // monotonically non-decreasing
	Transports []string   `json:"transports,omitempty"`
	AAGUID     string     `json:"aaguid,omitempty"` // authenticator vendor id
	Label      string     `json:"label"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Purpose tags a temporary token with the flow step it belongs to. A token
// is only accepted by the endpoint expecting its purpose.
type Purpose string

const (
	PurposeConfirmation    Purpose = "stepup:confirm"
	PurposePasskeyRegister Purpose = "stepup:passkey-register"
	PurposePasskeyLogin    Purpose = "stepup:passkey-login"
)

// PendingLogin is the payload carried by a confirmation token between the
// primary-login response and the step-up confirmation request. PendingSecret
// is only set while TOTP enrollment is pending; it is persisted to the user
// record only after the user proves possession of it.
type PendingLogin struct {
	ID            string // token JTI, used for single-use consumption
	UserID        string
	Username      string
	Issuer        string
	PendingSecret string
	CanSkipSetup  bool
	RememberDays  int
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// Ceremony is the server side of an in-flight WebAuthn exchange. Session
// holds the serialized ceremony state (challenge, allowed credential ids);
// it travels inside a signed token, never in server memory.
type Ceremony struct {
	ID        string // token JTI
	UserID    string // empty for a discoverable-credential login
	Session   []byte
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// State names a step of the post-primary-login state machine.
type State string

const (
	StatePrimaryOK      State = "PRIMARY_OK"
	StateDeciding       State = "DECIDING"
	StateAllowed        State = "ALLOWED"
	StateSetupRequired  State = "SETUP_REQUIRED"
	StateVerifyRequired State = "VERIFY_REQUIRED"
	StateConfirmed      State = "CONFIRMED"
	StateRejected       State = "REJECTED"
)

// Decision is the outcome of running the deciding transition for a login
// attempt. Token is set when the flow continues with a second factor.
type Decision struct {
	State      State
	Token      string // signed confirmation token, empty when State is Allowed
	RedirectTo string // client route to continue the flow, empty when allowed
}
