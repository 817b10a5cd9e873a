// Package channeldb implements the persistent key-value Store described in
// spec.md 3: a single flat keyspace partitioned by a one-byte prefix per
// record kind, with big-endian integer secondary indices so that range
// scans over a bucket iterate in order. The teacher's channeldb instead
// modeled each concern (open channels, the graph, invoices) as its own
// nested bolt.Bucket tree; we keep its DB-lifecycle idioms (Open,
// createChannelDB, the bufPool-style use of bolt as the sole storage
// engine) but flatten the schema to match original_source's store.rs,
// which every other component in this module is grounded on.
package channeldb

import (
	"bytes"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/EthanYuan/fiber/ferrors"
)

const (
	dbFileName       = "fiber.db"
	dbFilePermission = 0600
)

// storeBucket is the single top-level bucket holding every prefixed key.
// bbolt buckets already give us namespacing, but spec.md's Store is
// specified as one flat prefix-partitioned keyspace so that the prefix
// table in spec.md 3 fully describes the on-disk layout; we honor that by
// using exactly one bucket.
var storeBucket = []byte("fiber-store")

// Marshaler is implemented by any record the Store can persist.
type Marshaler interface {
	MarshalBinary() ([]byte, error)
}

// Unmarshaler is implemented by a pointer to a record the Store can load
// back into memory.
type Unmarshaler interface {
	UnmarshalBinary(data []byte) error
}

// Store is the persistent datastore backing channel state, the network
// graph, invoices, and payment sessions.
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens (creating if necessary) the store rooted at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return nil, ferrors.NewFatal("channeldb: create data dir: %v", err)
	}

	path := filepath.Join(dbPath, dbFileName)
	db, err := bolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return nil, ferrors.NewFatal("channeldb: open %s: %v", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(storeBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, ferrors.NewFatal("channeldb: init bucket: %v", err)
	}

	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(key []byte, m Marshaler) error {
	raw, err := m.MarshalBinary()
	if err != nil {
		return ferrors.New(ferrors.CodeInvalidParameter, "marshal record: %v", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(storeBucket).Put(key, raw)
	})
	if err != nil {
		return ferrors.NewFatal("channeldb: put: %v", err)
	}
	return nil
}

func (s *Store) get(key []byte, out Unmarshaler) (bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(storeBucket).Get(key)
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return false, ferrors.NewFatal("channeldb: get: %v", err)
	}
	if raw == nil {
		return false, nil
	}
	if err := out.UnmarshalBinary(raw); err != nil {
		return false, ferrors.NewFatal("channeldb: unmarshal record: %v", err)
	}
	return true, nil
}

func (s *Store) delete(key []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(storeBucket).Delete(key)
	})
	if err != nil {
		return ferrors.NewFatal("channeldb: delete: %v", err)
	}
	return nil
}

// scanPrefix invokes fn for every key/value pair whose key starts with
// prefix, in key order. fn receives the key with the prefix still attached
// so callers that need trailing id bytes (e.g. the channel id suffix of a
// peer index key) don't need to re-derive the prefix length.
func (s *Store) scanPrefix(prefix []byte, fn func(k, v []byte) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(storeBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ferrors.NewFatal("channeldb: scan: %v", err)
	}
	return nil
}

// --- channel actor state ---------------------------------------------------

func (s *Store) GetChannelActorState(channelID []byte, out Unmarshaler) (bool, error) {
	return s.get(channelActorStateKey(channelID), out)
}

func (s *Store) InsertChannelActorState(channelID []byte, state Marshaler) error {
	return s.put(channelActorStateKey(channelID), state)
}

func (s *Store) DeleteChannelActorState(channelID []byte) error {
	return s.delete(channelActorStateKey(channelID))
}

// --- peer/channel index -----------------------------------------------------

// IndexChannelByPeer records that channelID belongs to peerID, so
// GetChannelIDsByPeer can answer without scanning every channel actor
// state.
func (s *Store) IndexChannelByPeer(peerID, channelID []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(storeBucket).Put(peerIDChannelIDKey(peerID, channelID), []byte{1})
	})
	if err != nil {
		return ferrors.NewFatal("channeldb: index channel by peer: %v", err)
	}
	return nil
}

func (s *Store) RemoveChannelPeerIndex(peerID, channelID []byte) error {
	return s.delete(peerIDChannelIDKey(peerID, channelID))
}

func (s *Store) GetChannelIDsByPeer(peerID []byte) ([][]byte, error) {
	prefix := peerIDChannelIDPrefix(peerID)
	var ids [][]byte
	err := s.scanPrefix(prefix, func(k, v []byte) error {
		id := append([]byte(nil), k[len(prefix):]...)
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

// --- invoices ----------------------------------------------------------------

// InsertInvoice stores a newly created invoice, returning a
// CodeDuplicatedInvoice error if one already exists under paymentHash --
// matching original_source's insert_invoice, which rejects overwrites
// rather than silently replacing an outstanding invoice.
func (s *Store) InsertInvoice(paymentHash []byte, invoice Marshaler) error {
	key := ckbInvoiceKey(paymentHash)
	raw, err := invoice.MarshalBinary()
	if err != nil {
		return ferrors.New(ferrors.CodeInvalidParameter, "marshal record: %v", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(storeBucket)
		if b.Get(key) != nil {
			return errDuplicatedInvoice
		}
		return b.Put(key, raw)
	})
	if err == errDuplicatedInvoice {
		return ferrors.New(ferrors.CodeDuplicatedInvoice, "invoice already exists")
	}
	if err != nil {
		return ferrors.NewFatal("channeldb: insert invoice: %v", err)
	}
	return nil
}

// errDuplicatedInvoice signals InsertInvoice's duplicate check from
// inside its bolt.Update closure, which can only abort with a plain
// error (bolt rolls back the transaction on any non-nil return).
var errDuplicatedInvoice = ferrors.New(ferrors.CodeDuplicatedInvoice, "invoice already exists")

func (s *Store) GetInvoice(paymentHash []byte, out Unmarshaler) (bool, error) {
	return s.get(ckbInvoiceKey(paymentHash), out)
}

func (s *Store) InsertInvoicePreimage(paymentHash, preimage []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(storeBucket).Put(ckbInvoicePreimageKey(paymentHash), preimage)
	})
	if err != nil {
		return ferrors.NewFatal("channeldb: insert preimage: %v", err)
	}
	return nil
}

func (s *Store) GetInvoicePreimage(paymentHash []byte) ([]byte, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(storeBucket).Get(ckbInvoicePreimageKey(paymentHash))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, ferrors.NewFatal("channeldb: get preimage: %v", err)
	}
	return raw, raw != nil, nil
}

// --- network graph: channels -------------------------------------------------

func (s *Store) InsertChannelInfo(channelID []byte, info Marshaler) error {
	return s.put(channelInfoKey(channelID), info)
}

func (s *Store) GetChannelInfo(channelID []byte, out Unmarshaler) (bool, error) {
	return s.get(channelInfoKey(channelID), out)
}

// IndexChannelAnnouncement records the (block height, channel id) ordering
// used to replay the graph in arrival order.
func (s *Store) IndexChannelAnnouncement(blockHeight uint64, channelID []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(storeBucket).Put(channelAnnounceIndexKey(blockHeight, channelID), []byte{1})
	})
	if err != nil {
		return ferrors.NewFatal("channeldb: index channel announcement: %v", err)
	}
	return nil
}

func (s *Store) IndexChannelUpdate(timestamp uint64, channelID []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(storeBucket).Put(channelUpdateIndexKey(timestamp, channelID), []byte{1})
	})
	if err != nil {
		return ferrors.NewFatal("channeldb: index channel update: %v", err)
	}
	return nil
}

// ListChannelIDs returns every known channel id, in announcement order.
func (s *Store) ListChannelIDs() ([][]byte, error) {
	prefix := []byte{prefixChannelAnnounceIndex}
	var ids [][]byte
	err := s.scanPrefix(prefix, func(k, v []byte) error {
		id := append([]byte(nil), k[9:]...)
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

// --- network graph: nodes ----------------------------------------------------

func (s *Store) InsertNodeInfo(nodeID []byte, info Marshaler) error {
	return s.put(nodeInfoKey(nodeID), info)
}

func (s *Store) GetNodeInfo(nodeID []byte, out Unmarshaler) (bool, error) {
	return s.get(nodeInfoKey(nodeID), out)
}

func (s *Store) IndexNodeAnnouncement(timestamp uint64, nodeID []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(storeBucket).Put(nodeAnnounceIndexKey(timestamp, nodeID), []byte{1})
	})
	if err != nil {
		return ferrors.NewFatal("channeldb: index node announcement: %v", err)
	}
	return nil
}

func (s *Store) ListNodeIDs() ([][]byte, error) {
	prefix := []byte{prefixNodeAnnounceIndex}
	var ids [][]byte
	err := s.scanPrefix(prefix, func(k, v []byte) error {
		id := append([]byte(nil), k[9:]...)
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

// --- connected peers ----------------------------------------------------------

func (s *Store) InsertConnectedPeer(peerID []byte, multiaddr []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(storeBucket).Put(peerIDMultiaddrKey(peerID), multiaddr)
	})
	if err != nil {
		return ferrors.NewFatal("channeldb: insert connected peer: %v", err)
	}
	return nil
}

func (s *Store) RemoveConnectedPeer(peerID []byte) error {
	return s.delete(peerIDMultiaddrKey(peerID))
}

func (s *Store) GetConnectedPeer(peerID []byte) ([]byte, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(storeBucket).Get(peerIDMultiaddrKey(peerID))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, ferrors.NewFatal("channeldb: get connected peer: %v", err)
	}
	return raw, raw != nil, nil
}

// --- payment sessions ----------------------------------------------------------

func (s *Store) InsertPaymentSession(paymentHash []byte, session Marshaler) error {
	return s.put(paymentSessionKey(paymentHash), session)
}

func (s *Store) GetPaymentSession(paymentHash []byte, out Unmarshaler) (bool, error) {
	return s.get(paymentSessionKey(paymentHash), out)
}
