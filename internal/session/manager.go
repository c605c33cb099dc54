package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/dom/genstudio/internal/client"
	"github.com/dom/genstudio/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinPasswordLength is the client-side bound. The server enforces its own,
// stricter bound independently.
const MinPasswordLength = 6

type State int

const (
	StateLoggedOut State = iota
	StateLoggedIn
)

func (s State) String() string {
	if s == StateLoggedIn {
		return "logged_in"
	}
	return "logged_out"
}

// Session is the identity carried by the current access token.
type Session struct {
	SubjectID uuid.UUID
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Credentials struct {
	Email    string
	Password string
}

type SignupCredentials struct {
	Email           string
	Password        string
	ConfirmPassword string
}

// Authenticator is the remote side of login and signup.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*client.AuthResponse, error)
	Signup(ctx context.Context, email, password string) (*client.AuthResponse, error)
}

var errMalformedCredential = errors.New("malformed credential")

// Manager owns the session credential and expires it on its own when the
// token's exp claim passes.
type Manager struct {
	auth  Authenticator
	store CredentialStore
	now   func() time.Time

	mu        sync.Mutex
	token     string
	session   *Session
	timer     *time.Timer
	timerSeq  uint64
	observers map[int]func(State)
	nextObs   int
}

func NewManager(auth Authenticator, store CredentialStore) *Manager {
	return &Manager{
		auth:      auth,
		store:     store,
		now:       time.Now,
		observers: make(map[int]func(State)),
	}
}

// Restore rehydrates the session from the store. Missing, expired or
// malformed state yields no session; only store I/O failures are errors.
func (m *Manager) Restore() (*Session, error) {
	token, identity, err := m.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if token == "" {
		return nil, nil
	}

	sess, err := m.parse(token, identity)
	if err != nil {
		log.Printf("WARN [session.Restore] discarding stored credential: %v", err)
		if err := m.store.Clear(); err != nil {
			return nil, fmt.Errorf("clear credentials: %w", err)
		}
		return nil, nil
	}

	m.install(token, sess)
	return sess, nil
}

// ScheduleExpiry arms the one-shot expiry timer for token, replacing any armed
// timer. A token without a future exp claim arms nothing.
func (m *Manager) ScheduleExpiry(token string) {
	claims, err := parseClaims(token)
	if err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.armLocked(claims.ExpiresAt.Time)
}

func (m *Manager) armLocked(expiresAt time.Time) {
	m.disarmLocked()

	ttl := expiresAt.Sub(m.now())
	if ttl <= 0 {
		return
	}

	seq := m.timerSeq
	m.timer = time.AfterFunc(ttl, func() {
		m.expire(seq)
	})
}

func (m *Manager) disarmLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++
}

func (m *Manager) expire(seq uint64) {
	m.mu.Lock()
	if seq != m.timerSeq {
		// Re-armed or logged out since this timer was set.
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.clearLocked()
	m.mu.Unlock()

	log.Printf("session expired")
	m.notify(StateLoggedOut)
}

func (m *Manager) Login(ctx context.Context, creds Credentials) (*Session, error) {
	const op = "session.Login"

	email, err := validateCredentials(op, creds.Email, creds.Password)
	if err != nil {
		return nil, err
	}

	resp, err := m.auth.Login(ctx, email, creds.Password)
	if err != nil {
		return nil, err
	}
	return m.establish(op, resp)
}

func (m *Manager) Signup(ctx context.Context, creds SignupCredentials) (*Session, error) {
	const op = "session.Signup"

	email, err := validateCredentials(op, creds.Email, creds.Password)
	if err != nil {
		return nil, err
	}
	if creds.Password != creds.ConfirmPassword {
		return nil, domain.NewError(domain.KindValidation, op, domain.MsgPasswordsDoNotMatch)
	}

	resp, err := m.auth.Signup(ctx, email, creds.Password)
	if err != nil {
		return nil, err
	}
	return m.establish(op, resp)
}

func (m *Manager) establish(op string, resp *client.AuthResponse) (*Session, error) {
	identity, err := json.Marshal(resp.User)
	if err != nil {
		return nil, domain.WrapError(domain.KindInternal, op, "failed to encode identity", err)
	}

	sess, err := m.parse(resp.AccessToken, identity)
	if err != nil {
		return nil, domain.WrapError(domain.KindAuth, op, domain.MsgInvalidToken, err)
	}

	// The previous session's timer is disarmed before the save so it cannot
	// clear the new credential.
	m.mu.Lock()
	m.disarmLocked()
	if err := m.store.Save(resp.AccessToken, identity); err != nil {
		m.mu.Unlock()
		return nil, domain.WrapError(domain.KindInternal, op, "failed to store credentials", err)
	}
	m.token = resp.AccessToken
	m.session = sess
	m.armLocked(sess.ExpiresAt)
	m.mu.Unlock()

	m.notify(StateLoggedIn)
	return sess, nil
}

func (m *Manager) install(token string, sess *Session) {
	m.mu.Lock()
	m.token = token
	m.session = sess
	m.armLocked(sess.ExpiresAt)
	m.mu.Unlock()

	m.notify(StateLoggedIn)
}

// Logout disarms the expiry timer and purges the stored credential.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.disarmLocked()
	m.clearLocked()
	m.mu.Unlock()

	m.notify(StateLoggedOut)
}

// Invalidate drops a session the server has rejected.
func (m *Manager) Invalidate() {
	log.Printf("WARN [session.Invalidate] credential rejected by server")
	m.Logout()
}

func (m *Manager) clearLocked() {
	m.token = ""
	m.session = nil
	if err := m.store.Clear(); err != nil {
		log.Printf("ERROR [session.clear] %v", err)
	}
}

// Token returns the current access token while it is unexpired.
func (m *Manager) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.liveLocked() {
		return "", false
	}
	return m.token, true
}

func (m *Manager) Session() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.liveLocked() {
		return nil, false
	}
	sess := *m.session
	return &sess, true
}

func (m *Manager) liveLocked() bool {
	return m.session != nil && m.now().Before(m.session.ExpiresAt)
}

// Subscribe registers fn for state transitions and returns its cancel func.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

func (m *Manager) notify(state State) {
	m.mu.Lock()
	observers := make([]func(State), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	for _, fn := range observers {
		fn(state)
	}
}

// parse builds a session from a token and its identity. The expiry comes
// from the token's exp claim only.
func (m *Manager) parse(token string, identity []byte) (*Session, error) {
	claims, err := parseClaims(token)
	if err != nil {
		return nil, err
	}
	if !m.now().Before(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("%w: token expired at %s", errMalformedCredential, claims.ExpiresAt.Time.Format(time.RFC3339))
	}

	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject: %v", errMalformedCredential, err)
	}

	var user domain.UserIdentity
	if err := json.Unmarshal(identity, &user); err != nil {
		return nil, fmt.Errorf("%w: identity: %v", errMalformedCredential, err)
	}
	if user.ID != subject {
		return nil, fmt.Errorf("%w: identity does not match token subject", errMalformedCredential)
	}

	sess := &Session{
		SubjectID: subject,
		Email:     user.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		sess.IssuedAt = claims.IssuedAt.Time
	}
	return sess, nil
}

// parseClaims reads the claims without verifying the signature; the client
// does not hold the signing key and only needs the expiry.
func parseClaims(token string) (*domain.TokenClaims, error) {
	claims := &domain.TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCredential, err)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp claim", errMalformedCredential)
	}
	return claims, nil
}

func validateCredentials(op, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return "", domain.NewError(domain.KindValidation, op, domain.MsgInvalidEmail)
	}
	if len(password) < MinPasswordLength {
		return "", domain.NewError(domain.KindValidation, op, fmt.Sprintf(domain.MsgPasswordTooShort, MinPasswordLength))
	}
	return email, nil
}
