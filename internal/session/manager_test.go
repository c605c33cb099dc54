package session_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dom/genstudio/internal/client"
	"github.com/dom/genstudio/internal/domain"
	"github.com/dom/genstudio/internal/session"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exp has one second precision, so short TTLs round down.
func signToken(t *testing.T, subject uuid.UUID, email string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := domain.TokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func identityJSON(t *testing.T, id uuid.UUID, email string) []byte {
	t.Helper()
	data, err := json.Marshal(domain.UserIdentity{ID: id, Email: email})
	require.NoError(t, err)
	return data
}

type fakeAuth struct {
	mu    sync.Mutex
	calls int
	resp  *client.AuthResponse
	err   error
}

func (f *fakeAuth) Login(ctx context.Context, email, password string) (*client.AuthResponse, error) {
	return f.respond()
}

func (f *fakeAuth) Signup(ctx context.Context, email, password string) (*client.AuthResponse, error) {
	return f.respond()
}

func (f *fakeAuth) respond() (*client.AuthResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.resp, f.err
}

func (f *fakeAuth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type stateRecorder struct {
	mu     sync.Mutex
	states []session.State
}

func (r *stateRecorder) record(s session.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) last() (session.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return 0, false
	}
	return r.states[len(r.states)-1], true
}

func TestManager_Restore(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name        string
		token       func(t *testing.T) string
		identity    func(t *testing.T) []byte
		wantSession bool
		wantCleared bool
	}{
		{
			name:     "nothing stored",
			token:    func(t *testing.T) string { return "" },
			identity: func(t *testing.T) []byte { return nil },
		},
		{
			name:        "valid credential",
			token:       func(t *testing.T) string { return signToken(t, userID, "a@b.com", time.Hour) },
			identity:    func(t *testing.T) []byte { return identityJSON(t, userID, "a@b.com") },
			wantSession: true,
		},
		{
			name:        "expired credential",
			token:       func(t *testing.T) string { return signToken(t, userID, "a@b.com", -time.Minute) },
			identity:    func(t *testing.T) []byte { return identityJSON(t, userID, "a@b.com") },
			wantCleared: true,
		},
		{
			name:        "unparsable identity",
			token:       func(t *testing.T) string { return signToken(t, userID, "a@b.com", time.Hour) },
			identity:    func(t *testing.T) []byte { return []byte("{not json") },
			wantCleared: true,
		},
		{
			name:        "missing identity",
			token:       func(t *testing.T) string { return signToken(t, userID, "a@b.com", time.Hour) },
			identity:    func(t *testing.T) []byte { return nil },
			wantCleared: true,
		},
		{
			name:        "identity for another user",
			token:       func(t *testing.T) string { return signToken(t, userID, "a@b.com", time.Hour) },
			identity:    func(t *testing.T) []byte { return identityJSON(t, uuid.New(), "a@b.com") },
			wantCleared: true,
		},
		{
			name:        "garbage token",
			token:       func(t *testing.T) string { return "not-a-jwt" },
			identity:    func(t *testing.T) []byte { return identityJSON(t, userID, "a@b.com") },
			wantCleared: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := session.NewMemoryStore()
			if token := tt.token(t); token != "" {
				require.NoError(t, store.Save(token, tt.identity(t)))
			}

			mgr := session.NewManager(&fakeAuth{}, store)
			defer mgr.Logout()

			sess, err := mgr.Restore()
			require.NoError(t, err)

			if tt.wantSession {
				require.NotNil(t, sess)
				assert.Equal(t, userID, sess.SubjectID)
				assert.Equal(t, "a@b.com", sess.Email)
				assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, 5*time.Second)
				_, ok := mgr.Token()
				assert.True(t, ok)
				return
			}

			assert.Nil(t, sess)
			_, ok := mgr.Token()
			assert.False(t, ok)

			if tt.wantCleared {
				token, identity, err := store.Load()
				require.NoError(t, err)
				assert.Empty(t, token)
				assert.Nil(t, identity)
			}
		})
	}
}

func TestManager_Login(t *testing.T) {
	userID := uuid.New()
	token := signToken(t, userID, "a@b.com", time.Hour)

	tests := []struct {
		name      string
		creds     session.Credentials
		auth      *fakeAuth
		wantKind  domain.ErrorKind
		wantErr   bool
		wantCalls int
	}{
		{
			name:  "success",
			creds: session.Credentials{Email: "A@B.com", Password: "secret"},
			auth: &fakeAuth{resp: &client.AuthResponse{
				AccessToken: token,
				User:        domain.UserIdentity{ID: userID, Email: "a@b.com"},
			}},
			wantCalls: 1,
		},
		{
			name:     "six character password passes the client check",
			creds:    session.Credentials{Email: "a@b.com", Password: "123456"},
			auth:     &fakeAuth{err: domain.NewError(domain.KindAuth, "client.Login", domain.MsgInvalidCredentials)},
			wantErr:  true,
			wantKind: domain.KindAuth,
			// rejected by the server, not locally
			wantCalls: 1,
		},
		{
			name:      "short password never reaches the server",
			creds:     session.Credentials{Email: "a@b.com", Password: "12345"},
			auth:      &fakeAuth{},
			wantErr:   true,
			wantKind:  domain.KindValidation,
			wantCalls: 0,
		},
		{
			name:      "invalid email never reaches the server",
			creds:     session.Credentials{Email: "nope", Password: "secret"},
			auth:      &fakeAuth{},
			wantErr:   true,
			wantKind:  domain.KindValidation,
			wantCalls: 0,
		},
		{
			name:  "server returns an unusable token",
			creds: session.Credentials{Email: "a@b.com", Password: "secret"},
			auth: &fakeAuth{resp: &client.AuthResponse{
				AccessToken: "garbage",
				User:        domain.UserIdentity{ID: userID, Email: "a@b.com"},
			}},
			wantErr:   true,
			wantKind:  domain.KindAuth,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := session.NewMemoryStore()
			mgr := session.NewManager(tt.auth, store)
			defer mgr.Logout()

			states := &stateRecorder{}
			mgr.Subscribe(states.record)

			sess, err := mgr.Login(context.Background(), tt.creds)
			assert.Equal(t, tt.wantCalls, tt.auth.callCount())

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, domain.KindOf(err))
				_, ok := mgr.Token()
				assert.False(t, ok)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, userID, sess.SubjectID)

			got, ok := mgr.Token()
			require.True(t, ok)
			assert.Equal(t, token, got)

			stored, identity, err := store.Load()
			require.NoError(t, err)
			assert.Equal(t, token, stored)
			assert.JSONEq(t, string(identityJSON(t, userID, "a@b.com")), string(identity))

			last, ok := states.last()
			require.True(t, ok)
			assert.Equal(t, session.StateLoggedIn, last)
		})
	}
}

func TestManager_SignupConfirmMismatch(t *testing.T) {
	auth := &fakeAuth{}
	mgr := session.NewManager(auth, session.NewMemoryStore())

	_, err := mgr.Signup(context.Background(), session.SignupCredentials{
		Email:           "a@b.com",
		Password:        "secret1",
		ConfirmPassword: "secret2",
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, domain.MsgPasswordsDoNotMatch, domain.MessageOf(err))
	assert.Zero(t, auth.callCount())
}

func TestManager_ExpiresAutonomously(t *testing.T) {
	userID := uuid.New()
	store := session.NewMemoryStore()
	mgr := session.NewManager(&fakeAuth{resp: &client.AuthResponse{
		AccessToken: signToken(t, userID, "a@b.com", time.Second),
		User:        domain.UserIdentity{ID: userID, Email: "a@b.com"},
	}}, store)

	states := &stateRecorder{}
	mgr.Subscribe(states.record)

	_, err := mgr.Login(context.Background(), session.Credentials{Email: "a@b.com", Password: "secret"})
	require.NoError(t, err)

	_, ok := mgr.Token()
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		last, ok := states.last()
		return ok && last == session.StateLoggedOut
	}, 3*time.Second, 20*time.Millisecond)

	_, ok = mgr.Token()
	assert.False(t, ok)
	token, identity, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Nil(t, identity)
}

func TestManager_LogoutDisarmsTimer(t *testing.T) {
	userID := uuid.New()
	store := session.NewMemoryStore()
	mgr := session.NewManager(&fakeAuth{}, store)
	require.NoError(t, store.Save(signToken(t, userID, "a@b.com", 1100*time.Millisecond), identityJSON(t, userID, "a@b.com")))

	_, err := mgr.Restore()
	require.NoError(t, err)

	states := &stateRecorder{}
	mgr.Subscribe(states.record)

	mgr.Logout()
	last, ok := states.last()
	require.True(t, ok)
	assert.Equal(t, session.StateLoggedOut, last)

	// Log back in with a long-lived token; the old timer must not fire on it.
	longToken := signToken(t, userID, "a@b.com", time.Hour)
	require.NoError(t, store.Save(longToken, identityJSON(t, userID, "a@b.com")))
	_, err = mgr.Restore()
	require.NoError(t, err)
	defer mgr.Logout()

	time.Sleep(1500 * time.Millisecond)
	got, ok := mgr.Token()
	assert.True(t, ok)
	assert.Equal(t, longToken, got)
}

// slowSaveStore lingers after a save, leaving room for a stale timer to fire.
type slowSaveStore struct {
	*session.MemoryStore
	delay time.Duration
}

func (s *slowSaveStore) Save(token string, identity []byte) error {
	if err := s.MemoryStore.Save(token, identity); err != nil {
		return err
	}
	time.Sleep(s.delay)
	return nil
}

func TestManager_LoginKeepsCredentialWhenOldTimerFires(t *testing.T) {
	userID := uuid.New()
	mem := session.NewMemoryStore()
	require.NoError(t, mem.Save(signToken(t, userID, "a@b.com", 1100*time.Millisecond), identityJSON(t, userID, "a@b.com")))

	longToken := signToken(t, userID, "a@b.com", time.Hour)
	mgr := session.NewManager(&fakeAuth{resp: &client.AuthResponse{
		AccessToken: longToken,
		User:        domain.UserIdentity{ID: userID, Email: "a@b.com"},
	}}, &slowSaveStore{MemoryStore: mem, delay: 1500 * time.Millisecond})

	_, err := mgr.Restore()
	require.NoError(t, err)
	defer mgr.Logout()

	// The restored session expires while the new credential is being saved.
	_, err = mgr.Login(context.Background(), session.Credentials{Email: "a@b.com", Password: "secret"})
	require.NoError(t, err)

	got, ok := mgr.Token()
	require.True(t, ok)
	assert.Equal(t, longToken, got)

	stored, identity, err := mem.Load()
	require.NoError(t, err)
	assert.Equal(t, longToken, stored)
	assert.NotEmpty(t, identity)
}

func TestManager_ScheduleExpiryReplacesTimer(t *testing.T) {
	userID := uuid.New()
	store := session.NewMemoryStore()
	mgr := session.NewManager(&fakeAuth{}, store)
	require.NoError(t, store.Save(signToken(t, userID, "a@b.com", time.Hour), identityJSON(t, userID, "a@b.com")))

	_, err := mgr.Restore()
	require.NoError(t, err)

	states := &stateRecorder{}
	mgr.Subscribe(states.record)

	mgr.ScheduleExpiry(signToken(t, userID, "a@b.com", 1100*time.Millisecond))

	assert.Eventually(t, func() bool {
		_, ok := mgr.Token()
		return !ok
	}, 3*time.Second, 20*time.Millisecond)

	last, ok := states.last()
	require.True(t, ok)
	assert.Equal(t, session.StateLoggedOut, last)
}

func TestManager_Unsubscribe(t *testing.T) {
	mgr := session.NewManager(&fakeAuth{}, session.NewMemoryStore())
	states := &stateRecorder{}
	cancel := mgr.Subscribe(states.record)
	cancel()

	mgr.Logout()
	_, ok := states.last()
	assert.False(t, ok)
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "creds")
	store := session.NewFileStore(dir)

	token, identity, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Nil(t, identity)

	require.NoError(t, store.Save("tok", []byte(`{"id":"x"}`)))
	token, identity, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	assert.Equal(t, `{"id":"x"}`, string(identity))

	info, err := os.Stat(filepath.Join(dir, "token"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	token, _, err = store.Load()
	require.NoError(t, err)
	assert.Empty(t, token)
}
