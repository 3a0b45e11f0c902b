package store

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/jaywantadh/distrodepot/internal/model"
)

const (
	nodeKeyPrefix = "node:"
	fileKeyPrefix = "file:"

	snapSaltSize  = 16
	snapNonceSize = chacha20poly1305.NonceSize
	snapKeySize   = chacha20poly1305.KeySize
	snapScryptN   = 32768
	snapScryptR   = 8
	snapScryptP   = 1
)

// snapshotter mirrors the Store's two collections into a BadgerDB,
// key-prefixed by entity kind — the same pattern the teacher's
// metadata store uses for files and chunks, generalized here to the
// Master's node/file/placement tables (placements travel embedded in
// their owning file's JSON value, matching the persisted-state layout's
// placements table being keyed by file_id). Every value is
// lz4-compressed and, when a passphrase is configured, additionally
// encrypted with ChaCha20-Poly1305 keyed by scrypt(passphrase, salt).
type Snapshotter struct {
	db         *badger.DB
	passphrase string
}

// OpenSnapshotter opens (or creates) the BadgerDB at path. passphrase
// may be empty, in which case values are compressed but not encrypted.
func OpenSnapshotter(path, passphrase string) (*Snapshotter, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	return &Snapshotter{db: db, passphrase: passphrase}, nil
}

// Close releases the underlying BadgerDB.
func (sn *Snapshotter) Close() error {
	return sn.db.Close()
}

// save performs a full rewrite of both collections. The caller must
// already hold the Store's mutation lock.
func (sn *Snapshotter) save(s *Store) error {
	nodes, files := s.snapshotViewLocked()

	return sn.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, nodeKeyPrefix); err != nil {
			return err
		}
		if err := deletePrefix(txn, fileKeyPrefix); err != nil {
			return err
		}
		for _, n := range nodes {
			val, err := sn.encode(n)
			if err != nil {
				return fmt.Errorf("encode node %s: %w", n.NodeID, err)
			}
			if err := txn.Set([]byte(nodeKeyPrefix+n.NodeID), val); err != nil {
				return err
			}
		}
		for _, f := range files {
			val, err := sn.encode(f)
			if err != nil {
				return fmt.Errorf("encode file %s: %w", f.FileID, err)
			}
			if err := txn.Set([]byte(fileKeyPrefix+f.FileID), val); err != nil {
				return err
			}
		}
		return nil
	})
}

func deletePrefix(txn *badger.Txn, prefix string) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		keys = append(keys, append([]byte(nil), it.Item().Key()...))
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// load rehydrates nodes and files from BadgerDB into s. A fresh,
// previously-empty database is not an error. A value that fails to
// decode is logged by the caller and the store starts empty, per the
// fail-open policy on snapshot corruption.
func (sn *Snapshotter) load(s *Store) error {
	var nodes []*model.NodeState
	var files []*model.FileRecord

	err := sn.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		np := []byte(nodeKeyPrefix)
		for it.Seek(np); it.ValidForPrefix(np); it.Next() {
			var n model.NodeState
			if err := it.Item().Value(func(val []byte) error {
				return sn.decode(val, &n)
			}); err != nil {
				return fmt.Errorf("decode node: %w", err)
			}
			nodes = append(nodes, &n)
		}

		fp := []byte(fileKeyPrefix)
		for it.Seek(fp); it.ValidForPrefix(fp); it.Next() {
			var f model.FileRecord
			if err := it.Item().Value(func(val []byte) error {
				return sn.decode(val, &f)
			}); err != nil {
				return fmt.Errorf("decode file: %w", err)
			}
			files = append(files, &f)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoreLocked(nodes, files)
	return nil
}

func (sn *Snapshotter) encode(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	compressed, err := compress(raw)
	if err != nil {
		return nil, err
	}
	if sn.passphrase == "" {
		return compressed, nil
	}
	return encrypt(compressed, sn.passphrase)
}

func (sn *Snapshotter) decode(payload []byte, v interface{}) error {
	compressed := payload
	if sn.passphrase != "" {
		plain, err := decrypt(payload, sn.passphrase)
		if err != nil {
			return err
		}
		compressed = plain
	}
	raw, err := decompress(compressed)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func compress(data []byte) ([]byte, error) {
	var out bytes.Buffer
	w := lz4.NewWriter(&out)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, snapScryptN, snapScryptR, snapScryptP, snapKeySize)
}

func encrypt(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, snapSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("build aead: %w", err)
	}
	nonce := make([]byte, snapNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	result := append(salt, nonce...)
	result = append(result, ciphertext...)
	return result, nil
}

func decrypt(ciphertext []byte, passphrase string) ([]byte, error) {
	if len(ciphertext) < snapSaltSize+snapNonceSize {
		return nil, errors.New("snapshot ciphertext too short")
	}
	salt := ciphertext[:snapSaltSize]
	nonce := ciphertext[snapSaltSize : snapSaltSize+snapNonceSize]
	actual := ciphertext[snapSaltSize+snapNonceSize:]

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("build aead: %w", err)
	}
	return aead.Open(nil, nonce, actual, nil)
}
