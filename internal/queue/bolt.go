package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var rootBucket = []byte("offline_queue")

// Bolt keeps messages in a bbolt file, one nested bucket per user keyed by
// the bucket sequence so iteration order equals enqueue order.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens or creates the queue file at path.
func OpenBolt(path string) (*Bolt, error) {
	if path == "" {
		return nil, fmt.Errorf("queue path is required")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists(rootBucket)
		return createErr
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Enqueue(_ context.Context, message Message) error {
	if err := validate(message); err != nil {
		return err
	}
	encoded, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		userBucket, err := tx.Bucket(rootBucket).CreateBucketIfNotExists([]byte(message.UserID))
		if err != nil {
			return err
		}
		sequence, err := userBucket.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, sequence)
		return userBucket.Put(key, encoded)
	})
}

func (b *Bolt) Drain(_ context.Context, userID string) ([]Message, error) {
	if userID == "" {
		return nil, errMissingUserID
	}
	var drained []Message
	err := b.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(rootBucket)
		userBucket := root.Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		if err := userBucket.ForEach(func(_, value []byte) error {
			var message Message
			if err := json.Unmarshal(value, &message); err != nil {
				return err
			}
			drained = append(drained, message)
			return nil
		}); err != nil {
			return err
		}
		return root.DeleteBucket([]byte(userID))
	})
	if err != nil {
		return nil, err
	}
	return drained, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
