package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
)

const (
	badgerJobPrefix   = "jobs/"
	badgerBatchPrefix = "batches/"
)

type badgerBackend struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger key-value store at dir. Records are
// stored as JSON under jobs/<id> and batches/<id>.
func OpenBadger(dir string) (Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create badger dir: %w", err)
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &badgerBackend{db: db}, nil
}

func (b *badgerBackend) put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (b *badgerBackend) remove(key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (b *badgerBackend) SaveJob(_ context.Context, job *Job) error {
	return b.put(badgerJobPrefix+job.ID, job)
}

func (b *badgerBackend) DeleteJob(_ context.Context, id string) error {
	return b.remove(badgerJobPrefix + id)
}

func (b *badgerBackend) SaveBatch(_ context.Context, batch *Batch) error {
	return b.put(badgerBatchPrefix+batch.ID, batch)
}

func (b *badgerBackend) DeleteBatch(_ context.Context, id string) error {
	return b.remove(badgerBatchPrefix + id)
}

func (b *badgerBackend) LoadAll(context.Context) ([]*Job, []*Batch, error) {
	var (
		jobs    []*Job
		batches []*Batch
	)
	err := b.db.View(func(txn *badger.Txn) error {
		if err := scanPrefix(txn, badgerJobPrefix, func(val []byte) error {
			var job Job
			if err := json.Unmarshal(val, &job); err != nil {
				return fmt.Errorf("unmarshal job: %w", err)
			}
			jobs = append(jobs, &job)
			return nil
		}); err != nil {
			return err
		}
		return scanPrefix(txn, badgerBatchPrefix, func(val []byte) error {
			var batch Batch
			if err := json.Unmarshal(val, &batch); err != nil {
				return fmt.Errorf("unmarshal batch: %w", err)
			}
			batches = append(batches, &batch)
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return jobs, batches, nil
}

func scanPrefix(txn *badger.Txn, prefix string, fn func([]byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func (b *badgerBackend) Close() error {
	return b.db.Close()
}
