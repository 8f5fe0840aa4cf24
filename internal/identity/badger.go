package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/knock/internal/market"
)

const profilePrefix = "profile/"

// Config holds configuration for the Badger-backed registry.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. If nil, it is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults for a persistent registry at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerRegistry stores one JSON profile per participant in BadgerDB.
// Safe for concurrent use.
type BadgerRegistry struct {
	mu     sync.Mutex // serialises read-modify-write updates
	db     *badger.DB
	logger *slog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
	now    func() time.Time
}

var _ Registry = (*BadgerRegistry)(nil)

// Open opens (or creates) a registry with the given configuration and starts
// value log GC when configured for a persistent database.
func Open(cfg Config) (*BadgerRegistry, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("identity: path is required for persistent registry")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create registry directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open identity registry: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &BadgerRegistry{db: db, logger: logger, now: time.Now}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		r.stopCh = make(chan struct{})
		r.doneCh = make(chan struct{})
		go r.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return r, nil
}

// Close stops GC (if running) and closes the database.
func (r *BadgerRegistry) Close() error {
	if r.stopCh != nil {
		close(r.stopCh)
		<-r.doneCh
		r.stopCh = nil
	}
	return r.db.Close()
}

func (r *BadgerRegistry) runGC(interval time.Duration, ratio float64) {
	defer close(r.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			// ErrNoRewrite means no GC was needed.
			if err := r.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				r.logger.Warn("identity registry GC error", "error", err)
			}
		}
	}
}

// Register creates a valid profile for participant.
func (r *BadgerRegistry) Register(ctx context.Context, participant string) (Profile, error) {
	if market.IsReserved(market.NormalizeParticipant(participant)) {
		return Profile{}, fmt.Errorf("%s: %w", participant, ErrReservedParticipant)
	}
	var out Profile
	err := r.update(ctx, participant, func(p *Profile, exists bool) error {
		if exists && p.Registered {
			return fmt.Errorf("%s: %w", participant, ErrAlreadyRegistered)
		}
		p.Registered = true
		p.RegisteredAt = r.now().UTC()
		out = *p
		return nil
	})
	if err != nil {
		return Profile{}, err
	}
	r.logger.Info("participant registered", "participant", participant)
	return out, nil
}

// Ban marks a registered participant as banned.
func (r *BadgerRegistry) Ban(ctx context.Context, participant string) error {
	return r.setBanned(ctx, participant, true)
}

// Unban lifts a ban.
func (r *BadgerRegistry) Unban(ctx context.Context, participant string) error {
	return r.setBanned(ctx, participant, false)
}

func (r *BadgerRegistry) setBanned(ctx context.Context, participant string, banned bool) error {
	err := r.update(ctx, participant, func(p *Profile, exists bool) error {
		if !exists || !p.Registered {
			return fmt.Errorf("%s: %w", participant, ErrUnknownParticipant)
		}
		p.Banned = banned
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("participant ban updated", "participant", participant, "banned", banned)
	return nil
}

// Profile returns the stored profile or ErrUnknownParticipant.
func (r *BadgerRegistry) Profile(ctx context.Context, participant string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	var (
		p      Profile
		exists bool
	)
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		p, exists, err = readProfile(txn, participant)
		return err
	})
	if err != nil {
		return Profile{}, err
	}
	if !exists {
		return Profile{}, fmt.Errorf("%s: %w", participant, ErrUnknownParticipant)
	}
	return p, nil
}

// HasValidProfile reports whether participant is registered and not banned.
func (r *BadgerRegistry) HasValidProfile(ctx context.Context, participant string) (bool, error) {
	p, err := r.Profile(ctx, participant)
	if errors.Is(err, ErrUnknownParticipant) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Valid(), nil
}

// IncrementSent bumps the participant's sent counter. Counters are kept even
// for participants that never registered (e.g. receivers).
func (r *BadgerRegistry) IncrementSent(ctx context.Context, participant string) error {
	return r.update(ctx, participant, func(p *Profile, _ bool) error {
		p.KnocksSent++
		return nil
	})
}

// IncrementAccepted bumps the participant's accepted counter.
func (r *BadgerRegistry) IncrementAccepted(ctx context.Context, participant string) error {
	return r.update(ctx, participant, func(p *Profile, _ bool) error {
		p.Accepted++
		return nil
	})
}

// IncrementRejected bumps the participant's rejected counter.
func (r *BadgerRegistry) IncrementRejected(ctx context.Context, participant string) error {
	return r.update(ctx, participant, func(p *Profile, _ bool) error {
		p.Rejected++
		return nil
	})
}

// update applies fn to the stored profile in one read-write transaction.
func (r *BadgerRegistry) update(ctx context.Context, participant string, fn func(p *Profile, exists bool) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.db.Update(func(txn *badger.Txn) error {
		p, exists, err := readProfile(txn, participant)
		if err != nil {
			return err
		}
		if !exists {
			p = Profile{Participant: market.NormalizeParticipant(participant)}
		}
		if err := fn(&p, exists); err != nil {
			return err
		}
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode profile: %w", err)
		}
		return txn.Set(profileKey(participant), data)
	})
}

func readProfile(txn *badger.Txn, participant string) (Profile, bool, error) {
	item, err := txn.Get(profileKey(participant))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("read profile %s: %w", participant, err)
	}
	var p Profile
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &p)
	})
	if err != nil {
		return Profile{}, false, fmt.Errorf("decode profile %s: %w", participant, err)
	}
	return p, true, nil
}

func profileKey(participant string) []byte {
	return []byte(profilePrefix + market.NormalizeParticipant(participant))
}
