package store

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"

	"ecliptix/internal/domain"
	"ecliptix/internal/failure"
)

const channelsBucket = "channels"

// StateStore keeps sealed channel snapshots in a bbolt file, one record per
// connect id. Snapshots arrive already encrypted; this layer only persists
// bytes.
type StateStore struct {
	db *bolt.DB
}

var _ domain.StateStore = (*StateStore)(nil)

// OpenStateStore opens or creates the database at path.
func OpenStateStore(path string) (*StateStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, failure.Wrap(failure.Allocation, "open state store", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(channelsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, failure.Wrap(failure.Allocation, "initialise state store", err)
	}
	return &StateStore{db: db}, nil
}

// SaveState overwrites the snapshot for connect.
func (s *StateStore) SaveState(connect domain.ConnectID, snapshot []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(channelsBucket)).Put(connectKey(connect), snapshot)
	})
	if err != nil {
		return failure.Wrap(failure.Allocation, "save channel state", err)
	}
	return nil
}

// LoadState returns the snapshot for connect; ok is false when none exists.
func (s *StateStore) LoadState(connect domain.ConnectID) (snapshot []byte, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(channelsBucket)).Get(connectKey(connect))
		if v == nil {
			return nil
		}
		// The slice is only valid inside the transaction.
		snapshot = append([]byte(nil), v...)
		ok = true
		return nil
	})
	if err != nil {
		return nil, false, failure.Wrap(failure.Allocation, "load channel state", err)
	}
	return snapshot, ok, nil
}

// DeleteState removes the snapshot for connect, if any.
func (s *StateStore) DeleteState(connect domain.ConnectID) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(channelsBucket)).Delete(connectKey(connect))
	})
	if err != nil {
		return failure.Wrap(failure.Allocation, "delete channel state", err)
	}
	return nil
}

// Close syncs and closes the database.
func (s *StateStore) Close() error {
	s.db.Sync()
	return s.db.Close()
}

func connectKey(connect domain.ConnectID) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(connect))
	return k[:]
}
