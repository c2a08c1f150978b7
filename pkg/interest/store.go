package interest

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/ledgertap/pkg/types"
)

var (
	// Bucket names
	bucketInterests = []byte("interests")
	bucketMeta      = []byte("meta")

	keyNextGeneration = []byte("next_generation")
)

// persistedInterest is the stored form of an interest. Pubkeys are kept
// base58-encoded so the database stays inspectable.
type persistedInterest struct {
	ID            string   `json:"id"`
	Accounts      []string `json:"accounts,omitempty"`
	Owners        []string `json:"account_owners,omitempty"`
	TxIncluded    []string `json:"transaction_accounts_include,omitempty"`
	TxRequired    []string `json:"transaction_accounts_required,omitempty"`
	IncludeFailed bool     `json:"include_failed,omitempty"`
	Generation    uint64   `json:"generation"`
}

// Store persists interests in a bolt database so a restart resumes the
// same subscription topology.
type Store struct {
	db *bolt.DB
}

// NewStore opens (or creates) the interest database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "interests.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketInterests, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes the interest and advances the persisted generation counter in
// one transaction.
func (s *Store) Put(in *types.Interest, nextGen uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(toPersisted(in))
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketInterests).Put([]byte(in.ID), data); err != nil {
			return err
		}

		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], nextGen)
		return tx.Bucket(bucketMeta).Put(keyNextGeneration, buf[:])
	})
}

// Delete removes the interest if present. The generation counter is left
// untouched so generations are never reused.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInterests).Delete([]byte(id))
	})
}

// LoadAll returns all persisted interests and the generation counter to
// resume from.
func (s *Store) LoadAll() ([]*types.Interest, uint64, error) {
	var (
		interests []*types.Interest
		nextGen   uint64
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(bucketMeta).Get(keyNextGeneration); len(raw) == 8 {
			nextGen = binary.BigEndian.Uint64(raw)
		}

		return tx.Bucket(bucketInterests).ForEach(func(k, v []byte) error {
			var p persistedInterest
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("corrupt interest %s: %w", k, err)
			}
			in, err := fromPersisted(&p)
			if err != nil {
				return fmt.Errorf("corrupt interest %s: %w", k, err)
			}
			interests = append(interests, in)
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}
	return interests, nextGen, nil
}

func toPersisted(in *types.Interest) *persistedInterest {
	return &persistedInterest{
		ID:            in.ID,
		Accounts:      in.Predicate.Accounts.Strings(),
		Owners:        in.Predicate.Owners.Strings(),
		TxIncluded:    in.Predicate.TxAccountsIncluded.Strings(),
		TxRequired:    in.Predicate.TxAccountsRequired.Strings(),
		IncludeFailed: in.Predicate.IncludeFailed,
		Generation:    in.Generation,
	}
}

func fromPersisted(p *persistedInterest) (*types.Interest, error) {
	accounts, err := types.ParsePubkeySet(p.Accounts)
	if err != nil {
		return nil, err
	}
	owners, err := types.ParsePubkeySet(p.Owners)
	if err != nil {
		return nil, err
	}
	included, err := types.ParsePubkeySet(p.TxIncluded)
	if err != nil {
		return nil, err
	}
	required, err := types.ParsePubkeySet(p.TxRequired)
	if err != nil {
		return nil, err
	}

	return &types.Interest{
		ID: p.ID,
		Predicate: types.Predicate{
			Accounts:           accounts,
			Owners:             owners,
			TxAccountsIncluded: included,
			TxAccountsRequired: required,
			IncludeFailed:      p.IncludeFailed,
		},
		Generation: p.Generation,
	}, nil
}
