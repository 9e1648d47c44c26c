package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kolapsis/questlock/internal/economy"
	"github.com/kolapsis/questlock/internal/quest"
)

// ErrNotFound is returned when a record id does not exist locally.
var ErrNotFound = errors.New("record not found")

// StorageError wraps a local I/O failure. It is fatal to the current
// operation and always surfaced to the caller; partial writes never commit.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Store is the durable local persistence for the engine.
// Defined at the consumer side per Go conventions.
type Store interface {
	// Quests
	UpsertQuest(ctx context.Context, r *quest.Record) error
	UpsertQuests(ctx context.Context, rs []*quest.Record) error
	GetQuest(ctx context.Context, id string) (*quest.Record, error)
	ListQuests(ctx context.Context) ([]*quest.Record, error)
	ListUnsyncedQuests(ctx context.Context) ([]*quest.Record, error)
	// MarkQuestSynced clears the dirty flag for the exact revision that
	// was pushed; a record edited since returns ErrNotFound and stays dirty.
	MarkQuestSynced(ctx context.Context, id string, lastUpdated int64) error
	DeleteQuest(ctx context.Context, id string) error
	PurgeDestroyedQuests(ctx context.Context, before time.Time) (int, error)

	// Stats (append-only completion ledger)
	AppendStat(ctx context.Context, s *quest.Stat) error
	UpsertStats(ctx context.Context, ss []*quest.Stat) error
	ListStats(ctx context.Context) ([]*quest.Stat, error)
	ListUnsyncedStats(ctx context.Context) ([]*quest.Stat, error)
	MarkStatSynced(ctx context.Context, id string) error

	// Profile singleton. GetProfile returns (nil, nil) when absent.
	GetProfile(ctx context.Context) (*economy.Profile, error)
	SaveProfile(ctx context.Context, p *economy.Profile) error
	// MarkProfileSynced clears needs_sync for the exact pushed revision;
	// a profile mutated since returns ErrNotFound and stays dirty.
	MarkProfileSynced(ctx context.Context, lastUpdated int64) error

	// Usage history feeding the allowance calculator.
	RecordUsage(ctx context.Context, packageName string, day time.Time, used time.Duration) error
	PastNDaysUsage(ctx context.Context, packageName string, n int) ([]time.Duration, error)

	// DeleteAll wipes every record family in one transaction.
	DeleteAll(ctx context.Context) error

	Close() error
}
