// Package ledger implements the per-node persistent block store. Each node
// owns exactly one ledger file, keyed by its listen port, and is the only
// writer to it. Appends are atomic: a block and all of its transactions
// land in one write transaction or not at all.
package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"gitlab.com/NebulousLabs/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/water-bottle-afk/aurex/persist"
	"github.com/water-bottle-afk/aurex/types"
)

var (
	// ErrDuplicateBlock is returned by AppendBlock when the block's
	// current_hash is already recorded.
	ErrDuplicateBlock = errors.New("block with this hash already recorded")

	// ErrBlockNotFound is returned by the lookup methods.
	ErrBlockNotFound = errors.New("block not found in ledger")

	// ErrTxNotFound is returned when a transaction id is unknown.
	ErrTxNotFound = errors.New("transaction not found in ledger")
)

var (
	bucketBlocks       = []byte("Blocks")       // 8-byte BE index → block row (sans txs)
	bucketHashIndex    = []byte("HashIndex")    // current_hash → 8-byte BE index
	bucketTransactions = []byte("Transactions") // tx_id → storedTx
	bucketTxByBlock    = []byte("TxByBlock")    // current_hash + 4-byte BE seq → tx_id
	bucketRegistry     = []byte("Registry")     // node_id → RegistryEntry
)

// ledgerMetadata identifies a ledger file. The version gates incompatible
// layouts; bucket additions are the only supported migration.
var ledgerMetadata = persist.Metadata{
	Header:  "Aurex Node Ledger",
	Version: "1.0",
}

// A Ledger is one node's block store.
type Ledger struct {
	db *persist.BoltDatabase
}

// storedTx is a transaction row: the transaction plus the hash of the block
// that sealed it.
type storedTx struct {
	Tx        types.Transaction `json:"tx"`
	BlockHash string            `json:"block_hash"`
}

// A RegistryEntry is one row of the peer discovery bootstrap registry.
type RegistryEntry struct {
	NodeID   string `json:"node_id"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	NodeType string `json:"node_type"`
	Status   string `json:"status"`
	LastSeen string `json:"last_seen"`
}

// Filename returns the ledger filename for a listen port.
func Filename(port int) string {
	return fmt.Sprintf("node_%d.db", port)
}

// Open opens (creating if necessary) the ledger for a listen port. Opening
// is idempotent: missing buckets are created, existing data is untouched,
// and a file with a foreign header or version is rejected.
func Open(dir string, port int) (*Ledger, error) {
	db, err := persist.OpenDatabase(ledgerMetadata, filepath.Join(dir, Filename(port)))
	if err != nil {
		return nil, errors.AddContext(err, "unable to open ledger database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{
			bucketBlocks, bucketHashIndex, bucketTransactions,
			bucketTxByBlock, bucketRegistry,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.AddContext(err, "unable to create ledger buckets")
	}
	return &Ledger{db: db}, nil
}

// Close releases the ledger file.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// indexKey converts a block index to its 8-byte big-endian bucket key,
// which keeps cursor order equal to chain order.
func indexKey(index int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(index))
	return key
}

// seqKey builds the TxByBlock key for the nth transaction of a block.
func seqKey(blockHash string, seq int) []byte {
	key := make([]byte, 0, len(blockHash)+4)
	key = append(key, blockHash...)
	var seqBytes [4]byte
	binary.BigEndian.PutUint32(seqBytes[:], uint32(seq))
	return append(key, seqBytes[:]...)
}

// LastBlock returns the chain tip: the highest block index and its hash. An
// empty ledger reports (-1, GenesisPrevHash), which makes the first mined
// block land at index 0.
func (l *Ledger) LastBlock() (index int64, currentHash string, err error) {
	index, currentHash = types.GenesisParentIndex, types.GenesisPrevHash
	err = l.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketBlocks).Cursor()
		key, value := cursor.Last()
		if key == nil {
			return nil
		}
		var row types.Block
		if err := json.Unmarshal(value, &row); err != nil {
			return errors.AddContext(err, "unable to decode tip block")
		}
		index, currentHash = row.Index, row.CurrentHash
		return nil
	})
	return index, currentHash, err
}

// Height returns the number of blocks in the ledger.
func (l *Ledger) Height() (int64, error) {
	index, _, err := l.LastBlock()
	return index + 1, err
}

// AppendBlock inserts a block and all of its transactions in one write
// transaction. A block whose current_hash is already recorded fails with
// ErrDuplicateBlock and changes nothing. Each stored transaction takes the
// block timestamp as its end_timestamp if the caller has not set one.
func (l *Ledger) AppendBlock(b types.Block) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		hashIndex := tx.Bucket(bucketHashIndex)
		if hashIndex.Get([]byte(b.CurrentHash)) != nil {
			return ErrDuplicateBlock
		}
		blocks := tx.Bucket(bucketBlocks)
		if blocks.Get(indexKey(b.Index)) != nil {
			return ErrDuplicateBlock
		}

		// The block row holds no transactions; those live in their own
		// buckets, mirroring the two-table layout.
		row := b
		row.Transactions = nil
		rowJSON, err := json.Marshal(row)
		if err != nil {
			return errors.AddContext(err, "unable to encode block row")
		}
		if err := blocks.Put(indexKey(b.Index), rowJSON); err != nil {
			return err
		}
		if err := hashIndex.Put([]byte(b.CurrentHash), indexKey(b.Index)); err != nil {
			return err
		}

		transactions := tx.Bucket(bucketTransactions)
		txByBlock := tx.Bucket(bucketTxByBlock)
		for seq, blockTx := range b.Transactions {
			if blockTx.EndTimestamp == "" {
				blockTx.EndTimestamp = b.Timestamp
			}
			txJSON, err := json.Marshal(storedTx{Tx: blockTx, BlockHash: b.CurrentHash})
			if err != nil {
				return errors.AddContext(err, "unable to encode transaction row")
			}
			if err := transactions.Put([]byte(blockTx.Data.TxID), txJSON); err != nil {
				return err
			}
			if err := txByBlock.Put(seqKey(b.CurrentHash, seq), []byte(blockTx.Data.TxID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// blockAt reassembles the block stored under a Blocks bucket key.
func blockAt(tx *bolt.Tx, key []byte) (types.Block, error) {
	value := tx.Bucket(bucketBlocks).Get(key)
	if value == nil {
		return types.Block{}, ErrBlockNotFound
	}
	var b types.Block
	if err := json.Unmarshal(value, &b); err != nil {
		return types.Block{}, errors.AddContext(err, "unable to decode block row")
	}
	transactions := tx.Bucket(bucketTransactions)
	cursor := tx.Bucket(bucketTxByBlock).Cursor()
	prefix := []byte(b.CurrentHash)
	for k, txID := cursor.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == b.CurrentHash; k, txID = cursor.Next() {
		value := transactions.Get(txID)
		if value == nil {
			return types.Block{}, errors.New("transaction index points at missing row")
		}
		var stored storedTx
		if err := json.Unmarshal(value, &stored); err != nil {
			return types.Block{}, errors.AddContext(err, "unable to decode transaction row")
		}
		b.Transactions = append(b.Transactions, stored.Tx)
	}
	return b, nil
}

// BlockByIndex returns the block at an index, with its transactions.
func (l *Ledger) BlockByIndex(index int64) (types.Block, error) {
	var b types.Block
	err := l.db.View(func(tx *bolt.Tx) error {
		var err error
		b, err = blockAt(tx, indexKey(index))
		return err
	})
	return b, err
}

// BlockByHash returns the block with a current_hash.
func (l *Ledger) BlockByHash(hash string) (types.Block, error) {
	var b types.Block
	err := l.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketHashIndex).Get([]byte(hash))
		if key == nil {
			return ErrBlockNotFound
		}
		var err error
		b, err = blockAt(tx, key)
		return err
	})
	return b, err
}

// TransactionByID returns a sealed transaction and the hash of the block
// that sealed it.
func (l *Ledger) TransactionByID(txID string) (types.Transaction, string, error) {
	var stored storedTx
	err := l.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketTransactions).Get([]byte(txID))
		if value == nil {
			return ErrTxNotFound
		}
		return json.Unmarshal(value, &stored)
	})
	return stored.Tx, stored.BlockHash, err
}

// Blocks returns up to limit of the most recent blocks in ascending index
// order. A limit <= 0 returns every block.
func (l *Ledger) Blocks(limit int) ([]types.Block, error) {
	var out []types.Block
	err := l.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketBlocks).Cursor()
		key, _ := cursor.Last()
		collected := 0
		for ; key != nil && (limit <= 0 || collected < limit); key, _ = cursor.Prev() {
			b, err := blockAt(tx, key)
			if err != nil {
				return err
			}
			out = append(out, b)
			collected++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// The cursor walked tip-first; reverse into chain order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// UpsertNode inserts or refreshes a registry row, keyed by node id.
func (l *Ledger) UpsertNode(entry RegistryEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return errors.AddContext(err, "unable to encode registry entry")
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRegistry).Put([]byte(entry.NodeID), value)
	})
}

// Nodes returns every registry row.
func (l *Ledger) Nodes() ([]RegistryEntry, error) {
	var out []RegistryEntry
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRegistry).ForEach(func(_, value []byte) error {
			var entry RegistryEntry
			if err := json.Unmarshal(value, &entry); err != nil {
				return errors.AddContext(err, "unable to decode registry entry")
			}
			out = append(out, entry)
			return nil
		})
	})
	return out, err
}
