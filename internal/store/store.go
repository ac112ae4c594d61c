// ABOUTME: Store interface and data types for mercat-gateway persistence
// ABOUTME: Defines OAuth, catalog, charge and receipt records and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrCodeConsumed is returned when an authorization code has already been exchanged
var ErrCodeConsumed = errors.New("authorization code already consumed")

// OAuthClient is a registered agent application allowed to request tokens.
type OAuthClient struct {
	ID           string
	Name         string
	RedirectURIs []string
	AuthMethod   string // "none" | "client_secret_basic"
	SecretHash   string // empty for public clients
	Scope        string
	CreatedAt    time.Time
}

// AuthorizationCode is a one-time exchange token bound to a PKCE challenge.
type AuthorizationCode struct {
	ID              string
	Code            string
	ClientID        string
	UserID          string
	RedirectURI     string
	CodeChallenge   string
	ChallengeMethod string // only "S256" is ever stored
	Resource        string
	Scope           string
	AgentID         string
	ExpiresAt       time.Time
	Consumed        bool
	CreatedAt       time.Time
}

// RefreshToken is a long-lived credential. Only the SHA-256 hash of the token
// value is persisted. RotatedFrom links a token to the one it replaced.
type RefreshToken struct {
	ID          string
	TokenHash   string
	ClientID    string
	UserID      string
	Scope       string
	Resource    string
	AgentID     string
	ExpiresAt   time.Time
	Revoked     bool
	RotatedFrom *string
	CreatedAt   time.Time
}

// Access modes a resource can be served in.
const (
	ModeRaw     = "raw"
	ModeSummary = "summary"
)

// Resource is a priced, fetchable data asset in the catalog.
// Exactly one of ObjectID (internal storage) or ConnectorID (origin fetch)
// is normally set; resources are created and edited externally.
type Resource struct {
	ID          string
	ProviderID  string
	Title       string
	Summary     string
	Preview     string
	Domain      string
	Path        string
	Tags        []string
	Type        string
	Format      string
	ObjectID    *string
	ConnectorID *string
	PriceFlat   float64
	PricePerKB  float64
	Modes       []string
	Visibility  string // "public" | "hidden"
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SupportsMode reports whether the resource can be served in the given mode.
func (r *Resource) SupportsMode(mode string) bool {
	for _, m := range r.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// Connector types.
const (
	ConnectorInternal = "internal"
	ConnectorAPIKey   = "api_key"
	ConnectorJWT      = "jwt"
	ConnectorOAuth    = "oauth"
)

// Connector is a stored credential bundle for fetching a resource from its
// origin. Config is an encrypted JSON blob; the core only decrypts and uses it.
type Connector struct {
	ID        string
	OwnerID   string
	Type      string
	Config    []byte // secretbox-sealed JSON
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SpendingCaps holds per-user rolling-window limits. A zero or negative cap
// disables that check.
type SpendingCaps struct {
	UserID        string
	GlobalWeekly  float64
	PerSiteDaily  float64
	RawWeekly     float64
	SummaryWeekly float64
	UpdatedAt     time.Time
}

// Charge statuses.
const (
	ChargeStatusSettled  = "settled"
	ChargeStatusRejected = "rejected"
)

// ChargeRecord is a settled or rejected fetch attempt. Immutable once settled.
type ChargeRecord struct {
	ID         string
	UserID     string
	ResourceID string
	Mode       string
	Cost       float64
	Status     string
	CreatedAt  time.Time
}

// LedgerEntry credits a wallet as part of a settlement.
type LedgerEntry struct {
	ID        string
	ChargeID  string
	WalletID  string // "provider:<id>" or "platform"
	Amount    float64
	CreatedAt time.Time
}

// Receipt is the persisted signed artifact for a settlement. Payload is the
// exact byte sequence that was signed; it is never rewritten.
type Receipt struct {
	ID        string
	ChargeID  string
	UserID    string
	Payload   []byte
	Signature []byte
	CreatedAt time.Time
}

// StoredObject is an encrypted content blob for internally hosted resources.
type StoredObject struct {
	ID          string
	ContentType string
	Sealed      []byte // nonce-prefixed secretbox ciphertext
	CreatedAt   time.Time
}

// Store defines the persistence interface for the gateway.
type Store interface {
	// OAuth clients
	CreateClient(ctx context.Context, client *OAuthClient) error
	GetClient(ctx context.Context, id string) (*OAuthClient, error)
	ListClients(ctx context.Context) ([]*OAuthClient, error)

	// Authorization codes
	CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
	ConsumeAuthorizationCode(ctx context.Context, code string) error

	// Refresh tokens
	CreateRefreshToken(ctx context.Context, token *RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (*RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string) error
	RevokeRefreshChain(ctx context.Context, id string) error

	// Catalog
	CreateResource(ctx context.Context, resource *Resource) error
	GetResource(ctx context.Context, id string) (*Resource, error)
	ListResources(ctx context.Context) ([]*Resource, error)
	SearchResources(ctx context.Context, tokens []string, conjunctive bool, format string, limit int) ([]*Resource, error)

	// Connectors
	CreateConnector(ctx context.Context, connector *Connector) error
	GetConnector(ctx context.Context, id string) (*Connector, error)

	// Spending caps
	GetSpendingCaps(ctx context.Context, userID string) (*SpendingCaps, error)
	SetSpendingCaps(ctx context.Context, caps *SpendingCaps) error

	// Charges and settlement
	CreateCharge(ctx context.Context, charge *ChargeRecord) error
	SumSettledCharges(ctx context.Context, userID string, since time.Time) (float64, error)
	SumSettledChargesByResource(ctx context.Context, userID, resourceID string, since time.Time) (float64, error)
	SumSettledChargesByMode(ctx context.Context, userID, mode string, since time.Time) (float64, error)
	SettleCharge(ctx context.Context, charge *ChargeRecord, entries []*LedgerEntry, receipt *Receipt) error

	// Receipts
	GetReceipt(ctx context.Context, id string) (*Receipt, error)

	// Encrypted object storage
	PutObject(ctx context.Context, obj *StoredObject) error
	GetObject(ctx context.Context, id string) (*StoredObject, error)

	// Close releases any resources held by the store
	Close() error
}
