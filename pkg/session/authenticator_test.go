package session_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/vmware-session/pkg/fault"
	"github.com/openkcm/vmware-session/pkg/session"
	sessionmock "github.com/openkcm/vmware-session/pkg/session/mock"
	"github.com/openkcm/vmware-session/pkg/transport"
	transportmock "github.com/openkcm/vmware-session/pkg/transport/mock"
)

func TestCredentialAuthenticator_Login(t *testing.T) {
	tests := []struct {
		name      string
		reply     transportmock.Reply
		want      session.Handle
		errAssert assert.ErrorAssertionFunc
	}{
		{
			name:      "Success",
			reply:     transportmock.Reply{Result: map[string]any{"key": "abcdef123", "userName": "VSPHERE\\admin"}},
			want:      session.Handle{Key: "abcdef123", UserName: "VSPHERE\\admin"},
			errAssert: assert.NoError,
		},
		{
			name:      "UserNameFromCredentials",
			reply:     transportmock.Reply{Result: []byte(`{"key":"abcdef123"}`)},
			want:      session.Handle{Key: "abcdef123", UserName: "admin"},
			errAssert: assert.NoError,
		},
		{
			name:  "EmptyKey",
			reply: transportmock.Reply{Result: map[string]any{"userName": "admin"}},
			errAssert: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, session.ErrEmptyKey)
			},
		},
		{
			name:  "Rejected",
			reply: transportmock.Reply{Err: fault.New([]string{"InvalidLogin"}, "wrong password")},
			errAssert: func(t assert.TestingT, err error, _ ...any) bool {
				var f *fault.Fault
				return assert.ErrorAs(t, err, &f)
			},
		},
		{
			name:  "Undecodable",
			reply: transportmock.Reply{Result: []byte(`not json`)},
			errAssert: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, transport.ErrDecode)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := transportmock.NewClient(transportmock.WithReplies(transport.MethodLogin, tt.reply))
			auth := session.NewCredentialAuthenticator(client, session.Credentials{
				UserName: "admin",
				Password: "secret",
				Locale:   "en",
			})

			got, err := auth.Login(t.Context())
			if !tt.errAssert(t, err) || err != nil {
				return
			}

			assert.Equal(t, tt.want, got)

			calls := client.Calls(transport.MethodLogin)
			require.Len(t, calls, 1)
			assert.Empty(t, calls[0].Token)
			assert.Equal(t, transport.SessionManagerRef, calls[0].Request.Target)
			assert.Equal(t, map[string]any{"userName": "admin", "password": "secret", "locale": "en"}, calls[0].Request.Args)
		})
	}
}

func TestCredentialAuthenticator_LogoutAndIsActive(t *testing.T) {
	client := transportmock.NewClient(
		transportmock.WithReplies(transport.MethodLogout, transportmock.Reply{}),
		transportmock.WithReplies(transport.MethodSessionIsActive,
			transportmock.Reply{Result: true},
			transportmock.Reply{Result: false},
		),
	)
	auth := session.NewCredentialAuthenticator(client, session.Credentials{UserName: "admin"})
	h := session.Handle{Key: "k1", UserName: "admin"}

	active, err := auth.IsActive(t.Context(), h)
	require.NoError(t, err)
	assert.True(t, active)

	active, err = auth.IsActive(t.Context(), h)
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, auth.Logout(t.Context(), h))

	calls := client.Calls(transport.MethodLogout)
	require.Len(t, calls, 1)
	assert.Equal(t, "k1", calls[0].Token)

	checks := client.Calls(transport.MethodSessionIsActive)
	require.Len(t, checks, 2)
	assert.Equal(t, map[string]any{"sessionID": "k1", "userName": "admin"}, checks[0].Request.Args)
}

func TestExternalAuthenticator(t *testing.T) {
	auth := session.NewExternalAuthenticator("external-key", "svc")

	h, err := auth.Login(t.Context())
	require.NoError(t, err)
	assert.Equal(t, session.Handle{Key: "external-key", UserName: "svc"}, h)

	_, err = auth.Login(t.Context())
	assert.ErrorIs(t, err, session.ErrSessionUnavailable)
	assert.NoError(t, auth.Logout(t.Context(), h))

	h, err = auth.Login(t.Context())
	require.NoError(t, err, "a local logout hands the key back")
	assert.Equal(t, "external-key", h.Key)

	_, err = session.NewExternalAuthenticator("", "").Login(t.Context())
	assert.ErrorIs(t, err, session.ErrEmptyKey)
}

func TestExternalAuthenticator_ExpiredSessionIsFatal(t *testing.T) {
	m := session.NewManager(session.NewExternalAuthenticator("external-key", ""))

	s, err := m.EnsureValid(t.Context())
	require.NoError(t, err)
	require.True(t, m.Invalidate(s))

	_, err = m.EnsureValid(t.Context())
	require.ErrorIs(t, err, session.ErrSessionUnavailable)
	assert.Equal(t, fault.Fatal, fault.DefaultTable().Classify(err))
}

func TestExternalAuthenticator_LogoutKeepsKeyUsable(t *testing.T) {
	m := session.NewManager(session.NewExternalAuthenticator("external-key", ""))

	first, err := m.EnsureValid(t.Context())
	require.NoError(t, err)

	m.Logout(t.Context())
	assert.Equal(t, session.Unauthenticated, m.State())

	second, err := m.EnsureValid(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "external-key", second.Key)
	assert.Greater(t, second.Generation, first.Generation)

	require.True(t, m.Invalidate(second))
	_, err = m.EnsureValid(t.Context())
	assert.ErrorIs(t, err, session.ErrSessionUnavailable)
}

func TestSharedAuthenticator(t *testing.T) {
	t.Run("ConsumesPublishedKey", func(t *testing.T) {
		store := sessionmock.NewInMemStore(sessionmock.WithHandle(session.Handle{Key: "shared-1", UserName: "admin"}))
		auth := session.NewSharedAuthenticator(store, nil, 0)

		h, err := auth.Login(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "shared-1", h.Key)

		// Same key again means nobody refreshed it.
		_, err = auth.Login(t.Context())
		assert.ErrorIs(t, err, session.ErrSessionUnavailable)

		require.NoError(t, store.Save(t.Context(), session.Handle{Key: "shared-2"}, 0))
		h, err = auth.Login(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "shared-2", h.Key)

		require.NoError(t, auth.Logout(t.Context(), h))
		_, ok := store.Handle()
		assert.True(t, ok, "a consumer never removes the published key")

		h, err = auth.Login(t.Context())
		require.NoError(t, err, "the key is usable again after a local logout")
		assert.Equal(t, "shared-2", h.Key)
	})

	t.Run("EmptyStoreWithoutPublisher", func(t *testing.T) {
		auth := session.NewSharedAuthenticator(sessionmock.NewInMemStore(), nil, 0)

		_, err := auth.Login(t.Context())
		assert.ErrorIs(t, err, session.ErrSessionUnavailable)
	})

	t.Run("PublishesNewKey", func(t *testing.T) {
		store := sessionmock.NewInMemStore()
		next := sessionmock.NewAuthenticator()
		auth := session.NewSharedAuthenticator(store, next, time.Hour)

		h, err := auth.Login(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "key-1", h.Key)

		published, ok := store.Handle()
		require.True(t, ok)
		assert.Equal(t, h, published)
		assert.Equal(t, time.Hour, store.TTL())

		// The published key is stale for us now, so log in again.
		h, err = auth.Login(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "key-2", h.Key)
		assert.Equal(t, 2, next.Logins())

		require.NoError(t, auth.Logout(t.Context(), h))
		_, ok = store.Handle()
		assert.False(t, ok)
		assert.Equal(t, 1, next.Logouts())
	})

	t.Run("StoreFailuresDoNotBlockLogin", func(t *testing.T) {
		store := sessionmock.NewInMemStore(
			sessionmock.WithLoadError(errors.New("valkey down")),
			sessionmock.WithSaveError(errors.New("valkey down")),
		)
		next := sessionmock.NewAuthenticator()
		auth := session.NewSharedAuthenticator(store, next, time.Minute)

		h, err := auth.Login(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "key-1", h.Key)
	})
}
