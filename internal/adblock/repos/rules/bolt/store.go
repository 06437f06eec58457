// Package bolt persists host rules in a bbolt database.
//
// Layout:
//   - "block": canonical host -> source id of the first rule that named it
//   - "allow": same, for "@@" exception rules
//   - "meta":  "version" and "updated" as big-endian uint64
package bolt

import (
	"encoding/binary"
	"errors"
	"time"

	bbolt "go.etcd.io/bbolt"
	bberrors "go.etcd.io/bbolt/errors"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/repos/rules"
)

var (
	bucketBlock = []byte("block")
	bucketAllow = []byte("allow")
	bucketMeta  = []byte("meta")

	keyVersion = []byte("version")
	keyUpdated = []byte("updated")
)

type bucketCreator interface {
	CreateBucketIfNotExists(name []byte) (*bbolt.Bucket, error)
}

type bucketDeleter interface {
	DeleteBucket(name []byte) error
}

type bucketDeleterFunc func(name []byte) error

func (f bucketDeleterFunc) DeleteBucket(name []byte) error { return f(name) }

// ensureBucketsFn is a seam for tests.
var ensureBucketsFn = func(tx bucketCreator) error { return ensureBuckets(tx) }

// boltStore implements rules.Store using bbolt.
type boltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
func New(path string) (rules.Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error { return ensureBucketsFn(tx) }); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db, now: time.Now}, nil
}

// Opener returns a rules.StoreOpener for path.
func Opener(path string) rules.StoreOpener {
	return func() (rules.Store, error) { return New(path) }
}

func ensureBuckets(tx bucketCreator) error {
	for _, name := range [][]byte{bucketBlock, bucketAllow, bucketMeta} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return err
		}
	}
	return nil
}

// deleteBuckets removes the named buckets, ignoring ones that do not exist.
func deleteBuckets(tx bucketDeleter, names ...[]byte) error {
	for _, name := range names {
		if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bberrors.ErrBucketNotFound) {
			return err
		}
	}
	return nil
}

func (s *boltStore) Close() error { return s.db.Close() }

// PutRules writes host rules in a single transaction. Non-host rules are
// ignored. The first source to name a host keeps it.
func (s *boltStore) PutRules(rs []domain.FilterRule) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		block, allow := tx.Bucket(bucketBlock), tx.Bucket(bucketAllow)
		for _, r := range rs {
			if r.Kind != domain.RuleHost || r.Host == "" {
				continue
			}
			b := block
			if r.Action == domain.ActionAllow {
				b = allow
			}
			key := []byte(r.Host)
			if b.Get(key) != nil {
				continue
			}
			if err := b.Put(key, []byte(r.Source)); err != nil {
				return err
			}
		}
		return bumpMeta(tx.Bucket(bucketMeta), s.now())
	})
}

// FirstMatch returns the first host in hosts present in the bucket for action.
func (s *boltStore) FirstMatch(action domain.RuleAction, hosts []string) (domain.FilterRule, bool, error) {
	var (
		out   domain.FilterRule
		found bool
	)
	name := bucketBlock
	if action == domain.ActionAllow {
		name = bucketAllow
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(name)
		if b == nil {
			return nil
		}
		for _, h := range hosts {
			if v := b.Get([]byte(h)); v != nil {
				out = domain.FilterRule{Kind: domain.RuleHost, Action: action, Host: h, Source: string(v)}
				found = true
				return nil
			}
		}
		return nil
	})
	return out, found, err
}

// Purge drops every rule and resets the metadata.
func (s *boltStore) Purge() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := deleteBuckets(tx, bucketBlock, bucketAllow, bucketMeta); err != nil {
			return err
		}
		return ensureBuckets(tx)
	})
}

func (s *boltStore) Stats() rules.StoreStats {
	st := rules.StoreStats{}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketBlock); b != nil {
			st.BlockHosts = uint64(b.Stats().KeyN)
		}
		if b := tx.Bucket(bucketAllow); b != nil {
			st.AllowHosts = uint64(b.Stats().KeyN)
		}
		if b := tx.Bucket(bucketMeta); b != nil {
			if v := b.Get(keyVersion); len(v) == 8 {
				st.Version = binary.BigEndian.Uint64(v)
			}
			if v := b.Get(keyUpdated); len(v) == 8 {
				st.UpdatedUnix = int64(binary.BigEndian.Uint64(v))
			}
		}
		return nil
	})
	return st
}

func bumpMeta(b *bbolt.Bucket, now time.Time) error {
	var version uint64
	if v := b.Get(keyVersion); len(v) == 8 {
		version = binary.BigEndian.Uint64(v)
	}
	vbuf := make([]byte, 8)
	ubuf := make([]byte, 8)
	binary.BigEndian.PutUint64(vbuf, version+1)
	binary.BigEndian.PutUint64(ubuf, uint64(now.Unix()))
	if err := b.Put(keyVersion, vbuf); err != nil {
		return err
	}
	return b.Put(keyUpdated, ubuf)
}

var _ rules.Store = (*boltStore)(nil)
