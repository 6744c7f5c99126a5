// Package protocoltest provides in-memory fakes for the protocol
// capability interfaces.
package protocoltest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sessionfleet/internal/protocol"
)

// Event is one recorded client operation, timestamped for overlap checks.
type Event struct {
	Identity int64
	Op       string
	At       time.Time
}

// Recorder collects events across all fake clients sharing it.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) add(identity int64, op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Identity: identity, Op: op, At: time.Now()})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// SentMessage is one outbound message captured by a fake client.
type SentMessage struct {
	Peer string
	Text string
}

// PasswordUpdate is one captured secondary-password change.
type PasswordUpdate struct {
	Current string
	Next    string
	Hint    string
}

// Client is an in-memory protocol.Client.
type Client struct {
	User protocol.UserInfo

	ConnectErr    error
	MeErr         error
	SendErr       error
	InvalidateErr error
	UpdatePassErr error

	// OpDelay is added to connect/disconnect to make overlap observable.
	OpDelay time.Duration
	Rec     *Recorder

	mu          sync.Mutex
	connected   bool
	handler     protocol.Handler
	handlerSets int
	sent        []SentMessage
	deleted     []int64
	left        []string
	invalidated [][]string
	passUpdates []PasswordUpdate
	disconnects int
}

var _ protocol.Client = (*Client)(nil)

func (c *Client) record(op string) {
	if c.Rec != nil {
		c.Rec.add(c.User.ID, op)
	}
}

func (c *Client) Connect(ctx context.Context) error {
	if c.OpDelay > 0 {
		time.Sleep(c.OpDelay)
	}
	c.record("connect")
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	if c.OpDelay > 0 {
		time.Sleep(c.OpDelay)
	}
	c.record("disconnect")
	c.mu.Lock()
	c.connected = false
	c.disconnects++
	c.mu.Unlock()
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Me(ctx context.Context) (*protocol.UserInfo, error) {
	if c.MeErr != nil {
		return nil, c.MeErr
	}
	u := c.User
	return &u, nil
}

func (c *Client) SendMessage(ctx context.Context, peer, text string) (int64, error) {
	c.record("send")
	if c.SendErr != nil {
		return 0, c.SendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, SentMessage{Peer: peer, Text: text})
	return int64(len(c.sent)), nil
}

func (c *Client) DeleteMessage(ctx context.Context, peer string, messageID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, messageID)
	return nil
}

func (c *Client) LeaveChat(ctx context.Context, peer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left = append(c.left, peer)
	return nil
}

func (c *Client) InvalidateCodes(ctx context.Context, codes []string) error {
	if c.InvalidateErr != nil {
		return c.InvalidateErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, codes)
	return nil
}

func (c *Client) UpdatePassword(ctx context.Context, current, next, hint string) error {
	if c.UpdatePassErr != nil {
		return c.UpdatePassErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passUpdates = append(c.passUpdates, PasswordUpdate{Current: current, Next: next, Hint: hint})
	return nil
}

// PasswordUpdates returns every captured secondary-password change.
func (c *Client) PasswordUpdates() []PasswordUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PasswordUpdate, len(c.passUpdates))
	copy(out, c.passUpdates)
	return out
}

func (c *Client) SetHandler(h protocol.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
	c.handlerSets++
}

// Deliver feeds an inbound message to the installed handler, if any.
func (c *Client) Deliver(msg protocol.Message) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

func (c *Client) HandlerSets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlerSets
}

func (c *Client) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *Client) Invalidated() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]string, len(c.invalidated))
	copy(out, c.invalidated)
	return out
}

func (c *Client) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// account is a registered credential template on the driver.
type account struct {
	user    protocol.UserInfo
	dialErr error
}

// Driver is an in-memory protocol.Driver. Each Dial returns a fresh Client
// for the registered credential, so concurrent dials of the same credential
// produce distinct handles with the same identity.
type Driver struct {
	Rec *Recorder

	mu       sync.Mutex
	accounts map[string]account
	auths    map[string]*Auth
	dialed   []*Client
	sessions []protocol.Session
}

var _ protocol.Driver = (*Driver)(nil)

func NewDriver() *Driver {
	return &Driver{
		accounts: make(map[string]account),
		auths:    make(map[string]*Auth),
	}
}

// Add registers a credential that dials successfully as the given user.
func (d *Driver) Add(credential string, user protocol.UserInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[credential] = account{user: user}
}

// AddFailing registers a credential whose dial fails with err.
func (d *Driver) AddFailing(credential string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[credential] = account{dialErr: err}
}

// AddAuth registers an interactive-login authenticator for any DialAuth.
func (d *Driver) AddAuth(a *Auth) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.auths[""] = a
}

func (d *Driver) Dial(ctx context.Context, sess protocol.Session) (protocol.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions = append(d.sessions, sess)
	acc, ok := d.accounts[sess.Credential]
	if !ok {
		return nil, protocol.ErrInvalidSession
	}
	if acc.dialErr != nil {
		return nil, acc.dialErr
	}
	c := &Client{User: acc.user, connected: true, Rec: d.Rec}
	d.dialed = append(d.dialed, c)
	return c, nil
}

func (d *Driver) DialAuth(ctx context.Context, sess protocol.Session) (protocol.Authenticator, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.auths[""]
	if !ok {
		return nil, fmt.Errorf("protocoltest: no authenticator registered")
	}
	return a, nil
}

// Dialed returns every client handed out so far.
func (d *Driver) Dialed() []*Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Client, len(d.dialed))
	copy(out, d.dialed)
	return out
}

// Sessions returns the session parameters of every dial attempt.
func (d *Driver) Sessions() []protocol.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]protocol.Session, len(d.sessions))
	copy(out, d.sessions)
	return out
}

// Auth is a scripted protocol.Authenticator.
type Auth struct {
	// SendCodeErrs are consumed one per SendCode call; nil means success.
	SendCodeErrs []error
	CodeHash     string
	Via          string

	// ExpectedCode is the login code SignIn accepts.
	ExpectedCode string
	// PasswordNeeded makes a correct SignIn return ErrPasswordNeeded.
	PasswordNeeded bool
	// Password is the secondary password CheckPassword accepts.
	Password string
	Hint     string

	// Credential returned by ExportCredential.
	Credential string

	mu            sync.Mutex
	connected     bool
	sendCodeCalls int
}

var _ protocol.Authenticator = (*Auth)(nil)

func (a *Auth) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *Auth) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

func (a *Auth) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Auth) SendCode(ctx context.Context, phone string) (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	call := a.sendCodeCalls
	a.sendCodeCalls++
	if call < len(a.SendCodeErrs) && a.SendCodeErrs[call] != nil {
		return "", "", a.SendCodeErrs[call]
	}
	return a.CodeHash, a.Via, nil
}

func (a *Auth) SendCodeCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sendCodeCalls
}

func (a *Auth) SignIn(ctx context.Context, phone, codeHash, code string) error {
	if code != a.ExpectedCode {
		return fmt.Errorf("protocoltest: wrong login code")
	}
	if a.PasswordNeeded {
		return protocol.ErrPasswordNeeded
	}
	return nil
}

func (a *Auth) CheckPassword(ctx context.Context, password string) error {
	if password != a.Password {
		return protocol.ErrPasswordInvalid
	}
	return nil
}

func (a *Auth) PasswordHint(ctx context.Context) (string, error) {
	return a.Hint, nil
}

func (a *Auth) ExportCredential(ctx context.Context) (string, error) {
	return a.Credential, nil
}
