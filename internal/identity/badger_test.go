package identity

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRegistry(t *testing.T) *BadgerRegistry {
	t.Helper()
	r, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestRegister_CreatesValidProfile(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()
	r.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	p, err := r.Register(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, p.Valid())
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), p.RegisteredAt)

	ok, err := r.HasValidProfile(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r.Register(ctx, "alice")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestRegister_RejectsReservedIDs(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	for _, id := range []string{"@escrow", " @escrow", "@anything"} {
		_, err := r.Register(ctx, id)
		assert.ErrorIs(t, err, ErrReservedParticipant, id)
	}

	ok, err := r.HasValidProfile(ctx, "@escrow")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasValidProfile_Unknown(t *testing.T) {
	r := openTestRegistry(t)

	ok, err := r.HasValidProfile(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.Profile(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownParticipant)
}

func TestRegister_NormalisesParticipant(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	p, err := r.Register(ctx, " 0xABCdef ")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef", p.Participant)

	ok, err := r.HasValidProfile(ctx, "0xabcdef")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r.Register(ctx, "0XABCDEF")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestBanAndUnban(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	_, err := r.Register(ctx, "mallory")
	require.NoError(t, err)

	require.NoError(t, r.Ban(ctx, "mallory"))
	ok, err := r.HasValidProfile(ctx, "mallory")
	require.NoError(t, err)
	assert.False(t, ok, "banned participant must not be valid")

	require.NoError(t, r.Unban(ctx, "mallory"))
	ok, err = r.HasValidProfile(ctx, "mallory")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, r.Ban(ctx, "ghost"), ErrUnknownParticipant)
}

func TestCounters(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	_, err := r.Register(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, r.IncrementSent(ctx, "alice"))
	require.NoError(t, r.IncrementSent(ctx, "alice"))
	require.NoError(t, r.IncrementAccepted(ctx, "alice"))
	require.NoError(t, r.IncrementRejected(ctx, "alice"))

	p, err := r.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.KnocksSent)
	assert.Equal(t, int64(1), p.Accepted)
	assert.Equal(t, int64(1), p.Rejected)
}

func TestCounters_UnregisteredParticipantStaysInvalid(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.IncrementAccepted(ctx, "rita"))

	p, err := r.Profile(ctx, "rita")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Accepted)
	assert.False(t, p.Registered)

	ok, err := r.HasValidProfile(ctx, "rita")
	require.NoError(t, err)
	assert.False(t, ok)

	// Registering later keeps the counters.
	p, err = r.Register(ctx, "rita")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Accepted)
}

func TestCounters_Concurrent(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.IncrementSent(ctx, "alice"))
		}()
	}
	wg.Wait()

	p, err := r.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(n), p.KnocksSent)
}

func TestPersistentRegistry_Reopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "identity")
	ctx := context.Background()

	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour
	r, err := Open(cfg)
	require.NoError(t, err)
	_, err = r.Register(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r, err = Open(cfg)
	require.NoError(t, err)
	defer r.Close()

	ok, err := r.HasValidProfile(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestContextCancelled(t *testing.T) {
	r := openTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, r.IncrementSent(ctx, "alice"))
	_, err := r.Profile(ctx, "alice")
	assert.Error(t, err)
}
