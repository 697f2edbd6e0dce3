package store

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger"
)

var _ Store = (*BadgerStore)(nil)

var (
	exchangePrefix     = []byte("x/")
	subscriptionPrefix = []byte("s/")
)

// BadgerStore keeps session state in an embedded Badger key-value
// database, one directory per client.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens the database in dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions
	opts.Dir, opts.ValueDir = dir, dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func exchangeKey(dir Direction, id uint16) []byte {
	return append(append([]byte{}, exchangePrefix...), key(dir, id)...)
}

func subscriptionKey(filter string) []byte {
	return append(append([]byte{}, subscriptionPrefix...), filter...)
}

func (b *BadgerStore) set(k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, data)
	})
}

func (b *BadgerStore) delete(k []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	})
}

// each calls fn with the value of every key under prefix, in key order.
func (b *BadgerStore) each(prefix []byte, fn func(val []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().Value()
			if err != nil {
				return err
			}
			if err := fn(val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerStore) SaveExchange(e *Exchange) error {
	if err := b.set(exchangeKey(e.Direction, e.PacketID), e); err != nil {
		return fmt.Errorf("saving exchange: %w", err)
	}
	return nil
}

func (b *BadgerStore) DeleteExchange(dir Direction, packetID uint16) error {
	if err := b.delete(exchangeKey(dir, packetID)); err != nil {
		return fmt.Errorf("deleting exchange: %w", err)
	}
	return nil
}

func (b *BadgerStore) LoadExchanges() ([]*Exchange, error) {
	var out []*Exchange
	err := b.each(exchangePrefix, func(val []byte) error {
		e := &Exchange{}
		if err := json.Unmarshal(val, e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading exchanges: %w", err)
	}
	sortExchanges(out)
	return out, nil
}

func (b *BadgerStore) SaveSubscription(s *Subscription) error {
	if err := b.set(subscriptionKey(s.Filter), s); err != nil {
		return fmt.Errorf("saving subscription: %w", err)
	}
	return nil
}

func (b *BadgerStore) DeleteSubscription(filter string) error {
	if err := b.delete(subscriptionKey(filter)); err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	return nil
}

func (b *BadgerStore) LoadSubscriptions() ([]*Subscription, error) {
	var out []*Subscription
	err := b.each(subscriptionPrefix, func(val []byte) error {
		s := &Subscription{}
		if err := json.Unmarshal(val, s); err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading subscriptions: %w", err)
	}
	return out, nil
}

// Clear deletes every key, committing early when a transaction grows too
// large.
func (b *BadgerStore) Clear() error {
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, append([]byte{}, it.Item().Key()...))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing keys: %w", err)
	}

	txn := b.db.NewTransaction(true)
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			if err != badger.ErrTxnTooBig {
				txn.Discard()
				return fmt.Errorf("clearing store: %w", err)
			}
			if err := txn.Commit(nil); err != nil {
				txn.Discard()
				return fmt.Errorf("clearing store: %w", err)
			}
			txn = b.db.NewTransaction(true)
			if err := txn.Delete(k); err != nil {
				txn.Discard()
				return fmt.Errorf("clearing store: %w", err)
			}
		}
	}
	if err := txn.Commit(nil); err != nil {
		return fmt.Errorf("clearing store: %w", err)
	}
	return nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}
