package sink

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightninglabs/arq/arq"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

var (
	// transfersBucket is the top level bucket. It holds one nested
	// bucket per transfer, keyed by the transfer ID.
	transfersBucket = []byte("transfers")

	dataKey     = []byte("data")
	sizeKey     = []byte("size")
	receivedKey = []byte("received")

	// ErrTransferNotFound is returned by Get for unknown transfer IDs.
	ErrTransferNotFound = errors.New("transfer not found")
)

// Transfer is a transfer journaled in a Bolt sink.
type Transfer struct {
	ID       uuid.UUID
	Size     uint64
	Received time.Time
	Data     []byte
}

// Bolt journals every persisted transfer in a bbolt database under a fresh
// UUID.
type Bolt struct {
	db *bbolt.DB

	mu     sync.Mutex
	lastID uuid.UUID
}

var _ arq.Sink = (*Bolt)(nil)

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(transfersBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to create bucket")
	}

	return &Bolt{db: db}, nil
}

// Persist stores data as a new transfer.
func (b *Bolt) Persist(data []byte) error {
	_, err := b.Store(data)
	return err
}

// Store stores data as a new transfer and returns its ID.
func (b *Bolt) Store(data []byte) (uuid.UUID, error) {
	id := uuid.New()

	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(data)))

	received, err := time.Now().UTC().MarshalBinary()
	if err != nil {
		return uuid.Nil, err
	}

	err = b.db.Update(func(tx *bbolt.Tx) error {
		transfer, err := tx.Bucket(transfersBucket).CreateBucket(id[:])
		if err != nil {
			return err
		}

		if err := transfer.Put(dataKey, data); err != nil {
			return err
		}
		if err := transfer.Put(sizeKey, size[:]); err != nil {
			return err
		}
		return transfer.Put(receivedKey, received)
	})
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "store transfer")
	}

	b.mu.Lock()
	b.lastID = id
	b.mu.Unlock()

	log.Debugf("Stored transfer %v (%d bytes)", id, len(data))

	return id, nil
}

// LastID returns the ID of the most recently stored transfer, or uuid.Nil.
func (b *Bolt) LastID() uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.lastID
}

// Get reads back the transfer with the given ID.
func (b *Bolt) Get(id uuid.UUID) (*Transfer, error) {
	var t *Transfer
	err := b.db.View(func(tx *bbolt.Tx) error {
		transfer := tx.Bucket(transfersBucket).Bucket(id[:])
		if transfer == nil {
			return ErrTransferNotFound
		}

		var err error
		t, err = readTransfer(id, transfer)
		return err
	})
	if err != nil {
		return nil, err
	}

	return t, nil
}

// IDs returns the IDs of all stored transfers.
func (b *Bolt) IDs() ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(transfersBucket).ForEach(func(k, v []byte) error {
			// Only nested buckets live here, they have nil values.
			if v != nil {
				return nil
			}

			id, err := uuid.FromBytes(k)
			if err != nil {
				return err
			}
			ids = append(ids, id)

			return nil
		})
	})

	return ids, err
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.db.Close()
}

func readTransfer(id uuid.UUID, bucket *bbolt.Bucket) (*Transfer, error) {
	size := bucket.Get(sizeKey)
	if len(size) != 8 {
		return nil, errors.Errorf("transfer %v: corrupt size", id)
	}

	var received time.Time
	if err := received.UnmarshalBinary(bucket.Get(receivedKey)); err != nil {
		return nil, errors.Wrapf(err, "transfer %v: corrupt time", id)
	}

	// Values are only valid for the lifetime of the transaction.
	data := append([]byte(nil), bucket.Get(dataKey)...)

	return &Transfer{
		ID:       id,
		Size:     binary.BigEndian.Uint64(size),
		Received: received,
		Data:     data,
	}, nil
}
