package reconcile_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/huddleapp/huddle-go/auth"
	"github.com/huddleapp/huddle-go/client"
	"github.com/huddleapp/huddle-go/internal/stubapi"
	"github.com/huddleapp/huddle-go/provider"
	"github.com/huddleapp/huddle-go/reconcile"
	"github.com/huddleapp/huddle-go/storage"
)

func TestReconciler_EstablishesBackendSessionFromProviderLogin(t *testing.T) {
	backend := stubapi.New(zap.NewNop())
	srv := httptest.NewServer(backend.Handler())
	defer srv.Close()

	backend.SeedAccount("alice@example.com", "hunter2secret", "Alice", "Acme")
	backend.SeedProviderToken("provider-token-1", "alice@example.com")

	store := storage.NewMemoryStore()
	svc := auth.NewService(client.New(client.Config{BaseURL: srv.URL, Store: store}), zap.NewNop())

	session := &provider.StaticSession{ID: "auth0|alice", BearerToken: "provider-token-1"}
	r := reconcile.New(session, reconcile.ExchangerFunc(func(ctx context.Context, token string) error {
		_, err := svc.ExchangeProviderToken(ctx, token)
		return err
	}), zap.NewNop())

	// First cycle: one exchange establishes the backend session.
	require.NoError(t, r.Sync(context.Background()))
	assert.Equal(t, reconcile.StateSynced, r.State())
	assert.Equal(t, int32(1), backend.ExchangeCalls())
	assert.NotEmpty(t, store.GetToken(storage.KeyAccessToken))
	require.NotNil(t, store.GetUser())
	assert.Equal(t, "alice@example.com", store.GetUser().Email)

	// Second cycle with the same provider identity: zero additional calls.
	require.NoError(t, r.Sync(context.Background()))
	assert.Equal(t, int32(1), backend.ExchangeCalls())

	// The backend pair is authoritative: normal calls work without the
	// provider being consulted again.
	me, err := svc.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", me.Email)
}
