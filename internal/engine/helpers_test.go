package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/roach88/knock/internal/identity"
	"github.com/roach88/knock/internal/market"
	"github.com/roach88/knock/internal/payout"
	"github.com/roach88/knock/internal/store"
	"github.com/roach88/knock/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	startDay     market.Day = 20000
	feeRecipient            = "protocol"
)

// recordingPublisher captures published events in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []market.Event
}

func (p *recordingPublisher) Publish(events []market.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) kinds() []market.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]market.EventKind, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *store.Store
	registry  *identity.BadgerRegistry
	clock     *testutil.ManualClock
	payer     *payout.Unpayable
	published *recordingPublisher
	engine    *Engine
	restarts  int
}

// newFixture builds an engine over a temp ledger and an in-memory registry
// with every named participant registered. The clock starts at noon of startDay.
func newFixture(t *testing.T, participants ...string) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg, err := identity.Open(identity.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	for _, p := range participants {
		_, err := reg.Register(ctx, p)
		require.NoError(t, err)
	}

	f := &fixture{
		t:         t,
		ctx:       ctx,
		store:     s,
		registry:  reg,
		clock:     testutil.NewManualClockAtDay(startDay),
		published: &recordingPublisher{},
	}
	logger := slog.New(slog.DiscardHandler)
	f.payer = payout.NewUnpayable(payout.NewLedgerPayer(logger))
	f.engine = f.newEngine()
	return f
}

// newEngine opens another engine over the fixture's ledger, as a restart would.
func (f *fixture) newEngine() *Engine {
	f.t.Helper()
	f.restarts++
	e, err := New(f.ctx, f.store, f.registry, Config{FeeRecipient: feeRecipient},
		WithTimeSource(f.clock),
		WithTxIDGenerator(testutil.NewSequentialTxIDs(fmt.Sprintf("tx%d", f.restarts))),
		WithPayer(f.payer),
		WithPublisher(f.published),
		WithLogger(slog.New(slog.DiscardHandler)),
	)
	require.NoError(f.t, err)
	return e
}

func ether(s string) decimal.Decimal {
	d, err := market.ParseEther(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (f *fixture) submit(sender, receiver, bid string) market.Knock {
	f.t.Helper()
	k, err := f.engine.SubmitKnock(f.ctx, SubmitRequest{
		Sender: sender, Receiver: receiver, Bid: ether(bid), ContentID: "ipfs://" + sender,
	})
	require.NoError(f.t, err)
	return k
}

func (f *fixture) nextDay() {
	f.clock.AdvanceDays(1)
}

func (f *fixture) settle(receiver string) SettleResult {
	f.t.Helper()
	res, err := f.engine.Settle(f.ctx, receiver)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) knock(id int64) market.Knock {
	f.t.Helper()
	k, err := f.engine.Knock(f.ctx, id)
	require.NoError(f.t, err)
	return k
}

func (f *fixture) balance(account string) string {
	f.t.Helper()
	b, err := f.engine.Balance(f.ctx, account)
	require.NoError(f.t, err)
	return b.String()
}

// requireCode asserts err is a market error with the given code.
func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, CodeOf(err), "unexpected error: %v", err)
}
