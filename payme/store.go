package payme

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"paymebridge/storage"
)

// Store is the durable transaction collection keyed by provider id.
type Store interface {
	// Get returns nil, nil when id is unknown.
	Get(ctx context.Context, id string) (*Transaction, error)
	Put(ctx context.Context, tx *Transaction) error
	// List returns every transaction in insertion order.
	List(ctx context.Context) ([]*Transaction, error)
}

var (
	txPrefix  = []byte("tx/")
	seqPrefix = []byte("seq/")
	seqHead   = []byte("meta/next_seq")
)

type storedTransaction struct {
	Seq         uint64       `json:"seq"`
	Transaction *Transaction `json:"tx"`
}

// KVStore keeps transactions in a storage.Database. Each record is written
// together with a sequence index so List can replay insertion order on
// backends that only sort by key.
type KVStore struct {
	mu sync.Mutex
	db storage.Database
}

func NewKVStore(db storage.Database) *KVStore {
	return &KVStore{db: db}
}

// NewMemoryStore returns a KVStore over an in-memory database.
func NewMemoryStore() *KVStore {
	return NewKVStore(storage.NewMemDB())
}

func txKey(id string) []byte {
	return append(append([]byte{}, txPrefix...), id...)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, len(seqPrefix)+8)
	copy(key, seqPrefix)
	binary.BigEndian.PutUint64(key[len(seqPrefix):], seq)
	return key
}

func (s *KVStore) Get(ctx context.Context, id string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.load(id)
	if err != nil || stored == nil {
		return nil, err
	}
	return stored.Transaction, nil
}

func (s *KVStore) load(id string) (*storedTransaction, error) {
	raw, err := s.db.Get(txKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load transaction %s: %w", id, err)
	}
	var stored storedTransaction
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", id, err)
	}
	if err := stored.Transaction.Validate(); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *KVStore) Put(ctx context.Context, tx *Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(tx.ID)
	if err != nil {
		return err
	}
	batch := new(storage.Batch)
	stored := storedTransaction{Transaction: tx}
	if existing != nil {
		stored.Seq = existing.Seq
	} else {
		next, err := s.nextSeq()
		if err != nil {
			return err
		}
		stored.Seq = next
		batch.Put(seqKey(next), []byte(tx.ID))
		counter := make([]byte, 8)
		binary.BigEndian.PutUint64(counter, next+1)
		batch.Put(seqHead, counter)
	}
	encoded, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode transaction %s: %w", tx.ID, err)
	}
	batch.Put(txKey(tx.ID), encoded)
	if err := s.db.Write(batch); err != nil {
		return fmt.Errorf("persist transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (s *KVStore) nextSeq() (uint64, error) {
	raw, err := s.db.Get(seqHead)
	if errors.Is(err, storage.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load sequence head: %w", err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("corrupt sequence head")
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (s *KVStore) List(ctx context.Context) ([]*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	err := s.db.Iterate(seqPrefix, func(_, value []byte) error {
		ids = append(ids, string(value))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	out := make([]*Transaction, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stored, err := s.load(id)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, fmt.Errorf("sequence index references missing transaction %s", id)
		}
		out = append(out, stored.Transaction)
	}
	return out, nil
}
