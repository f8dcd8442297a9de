package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketSessions  = []byte("sessions")
	bucketSequences = []byte("sequences")
	bucketCodes     = []byte("codes")
	bucketStates    = []byte("states")
)

// BoltStore implements Store using BoltDB. Sessions survive restarts, so a
// transfer interrupted by a restart can still be finished by the device.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSessions, bucketSequences, bucketCodes, bucketStates} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func bucket(tx *bolt.Tx, name []byte) (*bolt.Bucket, error) {
	b := tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("bucket %q not found", name)
	}
	return b, nil
}

func (s *BoltStore) GetSession(endpoint string) (*Session, error) {
	var sess Session
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketSessions)
		if err != nil {
			return err
		}
		data := b.Get([]byte(endpoint))
		if data == nil {
			return fmt.Errorf("session %s: %w", endpoint, ErrNotFound)
		}
		return json.Unmarshal(data, &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *BoltStore) PutSession(sess *Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketSessions)
		if err != nil {
			return err
		}
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		return b.Put([]byte(sess.Endpoint), data)
	})
}

func (s *BoltStore) ClearSession(endpoint string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketSessions)
		if err != nil {
			return err
		}
		return b.Delete([]byte(endpoint))
	})
}

func (s *BoltStore) NextSeq(endpoint string) (uint16, error) {
	var seq uint16
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketSequences)
		if err != nil {
			return err
		}
		if last := b.Get([]byte(endpoint)); len(last) == 2 {
			seq = binary.BigEndian.Uint16(last) + 1
		}
		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], seq)
		return b.Put([]byte(endpoint), buf[:])
	})
	return seq, err
}

func (s *BoltStore) SaveCode(code *LearnedCode) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketCodes)
		if err != nil {
			return err
		}
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(code)
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], id)
		return b.Put(key[:], data)
	})
}

func (s *BoltStore) ListCodes() ([]*LearnedCode, error) {
	var codes []*LearnedCode
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketCodes)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var c LearnedCode
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			codes = append(codes, &c)
			return nil
		})
	})
	return codes, err
}

func (s *BoltStore) GetState(device string) (*DeviceState, error) {
	var st DeviceState
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketStates)
		if err != nil {
			return err
		}
		data := b.Get([]byte(device))
		if data == nil {
			return fmt.Errorf("state %s: %w", device, ErrNotFound)
		}
		return json.Unmarshal(data, &st)
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *BoltStore) UpdateState(device string, fn func(st *DeviceState) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketStates)
		if err != nil {
			return err
		}
		st := DeviceState{Device: device}
		if data := b.Get([]byte(device)); data != nil {
			if err := json.Unmarshal(data, &st); err != nil {
				return err
			}
		}
		if err := fn(&st); err != nil {
			return err
		}
		data, err := json.Marshal(&st)
		if err != nil {
			return err
		}
		return b.Put([]byte(device), data)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
