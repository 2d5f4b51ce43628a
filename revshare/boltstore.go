package revshare

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketMeta     = []byte("meta")
	bucketReleased = []byte("released")
	bucketEvents   = []byte("events")
	bucketPending  = []byte("pending")

	keyRegistry      = []byte("registry")
	keyTotalReleased = []byte("total_released")
)

// LockTimeout bounds the wait for the database file lock. bbolt holds an
// exclusive lock for as long as the store is open, so one process at a time
// may operate on a ledger.
var LockTimeout = time.Second

// BoltStore persists a ledger's registry, release bookkeeping and audit
// events in a single bbolt database.
type BoltStore struct {
	db *bbolt.DB
}

// Compile-time interface checks.
var (
	_ StateStore = (*BoltStore)(nil)
	_ EventSink  = (*BoltStore)(nil)
)

// OpenBoltStore opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("revshare: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: LockTimeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrStoreLocked, dbPath)
		}
		return nil, fmt.Errorf("revshare: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketReleased, bucketEvents, bucketPending} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("boltstore: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("revshare: create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("boltstore: expected 8-byte value, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// PutRegistry stores the serialized registry once.
func (s *BoltStore) PutRegistry(r *Registry) error {
	data, err := SerializeRegistry(r)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b.Get(keyRegistry) != nil {
			return ErrRegistryExists
		}
		if err := b.Put(keyRegistry, data); err != nil {
			return fmt.Errorf("boltstore: put registry: %w", err)
		}
		return nil
	})
}

// GetRegistry decodes the stored registry.
func (s *BoltStore) GetRegistry() (*Registry, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyRegistry)
		if v == nil {
			return ErrRegistryNotFound
		}
		// bbolt values are only valid inside the transaction.
		data = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return DeserializeRegistry(data)
}

// PutReleased writes the beneficiary's cumulative release, the new total
// and its pending record in one transaction. A nil pending deletes the
// beneficiary's record.
func (s *BoltStore) PutReleased(addr Address, releasedOf, totalReleased uint64, pending *PendingRelease) error {
	var rec []byte
	if pending != nil {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(pending); err != nil {
			return fmt.Errorf("boltstore: encode pending release: %w", err)
		}
		rec = buf.Bytes()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketReleased).Put(addr[:], uint64Bytes(releasedOf)); err != nil {
			return fmt.Errorf("boltstore: put released: %w", err)
		}
		if err := tx.Bucket(bucketMeta).Put(keyTotalReleased, uint64Bytes(totalReleased)); err != nil {
			return fmt.Errorf("boltstore: put total released: %w", err)
		}
		b := tx.Bucket(bucketPending)
		if rec == nil {
			if err := b.Delete(addr[:]); err != nil {
				return fmt.Errorf("boltstore: delete pending release: %w", err)
			}
			return nil
		}
		if err := b.Put(addr[:], rec); err != nil {
			return fmt.Errorf("boltstore: put pending release: %w", err)
		}
		return nil
	})
}

// LoadReleased reads all persisted release bookkeeping.
func (s *BoltStore) LoadReleased() (*ReleasedState, error) {
	st := &ReleasedState{
		Released: make(map[Address]uint64),
		Pending:  make(map[Address]PendingRelease),
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(keyTotalReleased); v != nil {
			total, err := bytesUint64(v)
			if err != nil {
				return err
			}
			st.TotalReleased = total
		}
		err := tx.Bucket(bucketReleased).ForEach(func(k, v []byte) error {
			addr, err := AddressFromHash(k)
			if err != nil {
				return fmt.Errorf("boltstore: released key: %w", err)
			}
			amount, err := bytesUint64(v)
			if err != nil {
				return err
			}
			st.Released[addr] = amount
			return nil
		})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPending).ForEach(func(k, v []byte) error {
			addr, err := AddressFromHash(k)
			if err != nil {
				return fmt.Errorf("boltstore: pending key: %w", err)
			}
			var p PendingRelease
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&p); err != nil {
				return fmt.Errorf("boltstore: decode pending release: %w", err)
			}
			st.Pending[addr] = p
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("revshare: load released: %w", err)
	}
	return st, nil
}

// Record appends ev to the events bucket. The sequence number comes from
// the bucket sequence and is written back into ev.
func (s *BoltStore) Record(_ context.Context, ev *Event) error {
	if ev == nil {
		return fmt.Errorf("%w: event", ErrNilParam)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("boltstore: next event sequence: %w", err)
		}
		rec := *ev
		rec.Seq = seq

		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
			return fmt.Errorf("boltstore: encode event: %w", err)
		}
		if err := b.Put(uint64Bytes(seq), buf.Bytes()); err != nil {
			return fmt.Errorf("boltstore: put event: %w", err)
		}
		ev.Seq = seq
		return nil
	})
}

// Events returns every recorded event in sequence order.
func (s *BoltStore) Events() ([]Event, error) {
	return s.EventsSince(0)
}

// EventsSince returns events with Seq > after, in sequence order.
func (s *BoltStore) EventsSince(after uint64) ([]Event, error) {
	var events []Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(uint64Bytes(after + 1)); k != nil; k, v = c.Next() {
			var ev Event
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&ev); err != nil {
				return fmt.Errorf("boltstore: decode event: %w", err)
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("revshare: list events: %w", err)
	}
	return events, nil
}
