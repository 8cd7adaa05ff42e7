// Package history archives finished run reports. Runs never read it back
// for their own behavior; it exists for the operator looking at trends.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"

	"adconverge/internal/report"
)

const runPrefix = "run:"

type Archive interface {
	Record(ctx context.Context, r report.RunReport) error
	Runs(ctx context.Context) ([]Entry, error)
	Close() error
}

// Entry is one archived run, newest-last in Runs output.
type Entry struct {
	Key    string
	Report report.RunReport
}

type badgerArchive struct {
	db *badger.DB
}

func Open(path string) (Archive, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable Badger's internal logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &badgerArchive{db: db}, nil
}

func (a *badgerArchive) Record(ctx context.Context, r report.RunReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}

	key := fmt.Sprintf("%s%d:%s", runPrefix, time.Now().Unix(), r.RunID)
	err = a.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("archive run %s: %w", r.RunID, err)
	}
	return nil
}

func (a *badgerArchive) Runs(ctx context.Context) ([]Entry, error) {
	var entries []Entry

	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(runPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())

			err := item.Value(func(val []byte) error {
				var r report.RunReport
				if err := json.Unmarshal(val, &r); err != nil {
					return err
				}
				entries = append(entries, Entry{Key: key, Report: r})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list archived runs: %w", err)
	}
	return entries, nil
}

func (a *badgerArchive) Close() error {
	return a.db.Close()
}
