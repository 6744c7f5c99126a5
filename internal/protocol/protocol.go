package protocol

import "context"

// ServiceSenderID is the provider's system/service account. Login codes and
// other service broadcasts always arrive from this sender.
const ServiceSenderID int64 = 777000

// SelfPeer addresses the account's own saved-messages chat.
const SelfPeer = "me"

// UserInfo mirrors the provider's view of an account.
type UserInfo struct {
	ID        int64
	FirstName string
	Username  string
	Phone     string
}

// Message is a single inbound message as seen by a session client.
type Message struct {
	ID       int64
	ChatID   int64
	SenderID int64
	Text     string
	Caption  string
	Service  bool
}

// Handler receives inbound messages from a connected client.
type Handler func(msg Message)

// Session carries everything needed to re-establish a connection:
// the opaque credential plus the device profile presented to the provider.
type Session struct {
	Credential     string
	DeviceModel    string
	SystemVersion  string
	AppVersion     string
	LangCode       string
	SystemLangCode string
	LangPack       string
}

// Client is a live connection for one account.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Me returns the authenticated account's identity and profile.
	Me(ctx context.Context) (*UserInfo, error)

	SendMessage(ctx context.Context, peer, text string) (int64, error)
	DeleteMessage(ctx context.Context, peer string, messageID int64) error
	LeaveChat(ctx context.Context, peer string) error

	// InvalidateCodes revokes login verification codes at the provider.
	InvalidateCodes(ctx context.Context, codes []string) error

	// UpdatePassword changes the account's secondary-verification password.
	UpdatePassword(ctx context.Context, current, next, hint string) error

	// SetHandler installs h as the sole inbound-message handler, replacing
	// any previously installed handler.
	SetHandler(h Handler)
}

// Authenticator drives an interactive login that ends in an exportable
// credential.
type Authenticator interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// SendCode requests a login code for phone. It returns an opaque hash
	// tying the code to this request and the delivery channel name
	// ("app", "sms", "email", ...).
	SendCode(ctx context.Context, phone string) (codeHash, via string, err error)

	// SignIn submits the received code. Returns ErrPasswordNeeded when the
	// account has a secondary password.
	SignIn(ctx context.Context, phone, codeHash, code string) error

	// CheckPassword submits the secondary password. Returns
	// ErrPasswordInvalid on a wrong password.
	CheckPassword(ctx context.Context, password string) error

	PasswordHint(ctx context.Context) (string, error)

	// ExportCredential serializes the authenticated session into an opaque
	// reusable credential.
	ExportCredential(ctx context.Context) (string, error)
}

// Driver is implemented by platform integrations and registered via
// Register. The engine itself never speaks the wire protocol.
type Driver interface {
	Dial(ctx context.Context, sess Session) (Client, error)
	DialAuth(ctx context.Context, sess Session) (Authenticator, error)
}
