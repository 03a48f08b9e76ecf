package metadata

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// Records live under a start-time ordered key so listing newest first is a
// reverse scan. The id key points at the time key.
const (
	transferTimePrefix = "transfer:time:"
	transferIDPrefix   = "transfer:id:"
)

// ErrRecordNotFound is returned when no transfer is stored under an ID.
var ErrRecordNotFound = errors.New("metadata: transfer not found")

// TransferRecord is the persisted outcome of one transfer session.
type TransferRecord struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Path       string    `json:"path"`
	Remote     string    `json:"remote,omitempty"`
	Status     string    `json:"status"`
	Bytes      int64     `json:"bytes"`
	Blocks     int64     `json:"blocks"`
	TotalBytes int64     `json:"total_bytes,omitempty"`
	Digest     string    `json:"digest,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// MetadataStore wraps BadgerDB for metadata operations.
type MetadataStore struct {
	db *badger.DB
}

// OpenMetadataStore opens (or creates) a BadgerDB at the given path. An empty
// path keeps the ledger in memory.
func OpenMetadataStore(dbPath string) (*MetadataStore, error) {
	opts := badger.DefaultOptions(dbPath).WithLogger(nil)
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open BadgerDB")
	}
	return &MetadataStore{db: db}, nil
}

// Close closes the BadgerDB.
func (ms *MetadataStore) Close() error {
	return ms.db.Close()
}

func timeKey(record TransferRecord) []byte {
	nanos := record.StartedAt.UnixNano()
	if nanos < 0 || record.StartedAt.IsZero() {
		nanos = 0
	}
	return []byte(fmt.Sprintf("%s%020d:%s", transferTimePrefix, nanos, record.ID))
}

// PutTransfer stores or replaces a transfer record.
func (ms *MetadataStore) PutTransfer(record TransferRecord) error {
	if record.ID == "" {
		return errors.New("transfer record has no id")
	}
	val, err := json.Marshal(record)
	if err != nil {
		return err
	}

	idKey := []byte(transferIDPrefix + record.ID)
	tKey := timeKey(record)
	return ms.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey)
		switch {
		case err == nil:
			old, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if string(old) != string(tKey) {
				if err := txn.Delete(old); err != nil {
					return err
				}
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		if err := txn.Set(tKey, val); err != nil {
			return err
		}
		return txn.Set(idKey, tKey)
	})
}

// GetTransfer retrieves a transfer record by ID.
func (ms *MetadataStore) GetTransfer(id string) (TransferRecord, error) {
	var record TransferRecord
	err := ms.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(transferIDPrefix + id))
		if err != nil {
			return err
		}
		tKey, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(tKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return record, errors.Wrapf(ErrRecordNotFound, "%s", id)
	}
	return record, err
}

// ListTransfers returns up to limit records, most recently started first. A
// limit of zero or less returns everything.
func (ms *MetadataStore) ListTransfers(limit int) ([]TransferRecord, error) {
	records := []TransferRecord{}
	err := ms.db.View(func(txn *badger.Txn) error {
		prefix := []byte(transferTimePrefix)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		if limit > 0 && limit < opts.PrefetchSize {
			opts.PrefetchSize = limit
		}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(prefix, 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var record TransferRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
