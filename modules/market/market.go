// Package market implements the shared wallet and asset store: the single
// authority for user balances and asset ownership. Only the app server
// opens it; the confirmation consumer is its sole writer on the purchase
// path. All mutations run inside one bolt write transaction, which is the
// BEGIN IMMEDIATE of this store: writers serialize, and a failure rolls the
// whole mutation back.
package market

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/fastrand"
	bolt "go.etcd.io/bbolt"

	"github.com/water-bottle-afk/aurex/persist"
	"github.com/water-bottle-afk/aurex/types"
)

var (
	// ErrUserExists is returned by Signup for a taken username or email.
	ErrUserExists = errors.New("username or email already registered")

	// ErrUserNotFound is returned when a username is unknown.
	ErrUserNotFound = errors.New("user not found")

	// ErrBadCredentials is returned by Authenticate on a wrong password.
	ErrBadCredentials = errors.New("bad credentials")

	// ErrAssetNotFound is returned when an asset id is unknown.
	ErrAssetNotFound = errors.New("asset not found")
)

var (
	bucketUsers  = []byte("Users")  // username → User
	bucketAssets = []byte("Assets") // asset_id → Asset
)

// passwordPepper is a server-side secret mixed into every password hash, so
// a stolen store file alone cannot be dictionary-attacked offline without
// the binary.
const passwordPepper = "aurex/market/pepper/v1"

var marketMetadata = persist.Metadata{
	Header:  "Aurex Market",
	Version: "1.0",
}

// A User is one account row.
type User struct {
	Username        string  `json:"username"`
	Email           string  `json:"email"`
	PasswordHash    string  `json:"password_hash"`
	Salt            string  `json:"salt"`
	WalletBalance   float64 `json:"wallet_balance"`
	WalletUpdatedAt string  `json:"wallet_updated_at"`
	CreatedAt       string  `json:"created_at"`
}

// An Asset is one marketplace item row.
type Asset struct {
	AssetID   string  `json:"asset_id"`
	AssetName string  `json:"asset_name"`
	Owner     string  `json:"owner"`
	Cost      float64 `json:"cost"`
	IsListed  bool    `json:"is_listed"`
	CreatedAt string  `json:"created_at"`
}

// A Market is an open wallet/asset store.
type Market struct {
	db *persist.BoltDatabase
}

// Open opens (creating if necessary) the market store in dir.
func Open(dir string) (*Market, error) {
	db, err := persist.OpenDatabase(marketMetadata, filepath.Join(dir, "market.db"))
	if err != nil {
		return nil, errors.AddContext(err, "unable to open market database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketUsers, bucketAssets} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.AddContext(err, "unable to create market buckets")
	}
	return &Market{db: db}, nil
}

// Close releases the store file.
func (m *Market) Close() error {
	return m.db.Close()
}

// hashPassword derives the stored password hash from a salt and the
// plaintext: sha256(salt || pepper || password), hex.
func hashPassword(saltHex, password string) string {
	h := sha256.New()
	h.Write([]byte(saltHex))
	h.Write([]byte(passwordPepper))
	h.Write([]byte(password))
	return hex.EncodeToString(h.Sum(nil))
}

// putUser writes a user row inside an open write transaction.
func putUser(tx *bolt.Tx, u User) error {
	value, err := json.Marshal(u)
	if err != nil {
		return errors.AddContext(err, "unable to encode user row")
	}
	return tx.Bucket(bucketUsers).Put([]byte(u.Username), value)
}

// getUser reads a user row inside an open transaction.
func getUser(tx *bolt.Tx, username string) (User, error) {
	value := tx.Bucket(bucketUsers).Get([]byte(username))
	if value == nil {
		return User{}, ErrUserNotFound
	}
	var u User
	if err := json.Unmarshal(value, &u); err != nil {
		return User{}, errors.AddContext(err, "unable to decode user row")
	}
	return u, nil
}

// Signup creates an account with a fresh salt and the starting wallet
// balance. Usernames and emails are unique.
func (m *Market) Signup(username, password, email string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketUsers).Get([]byte(username)) != nil {
			return ErrUserExists
		}
		emailTaken := false
		err := tx.Bucket(bucketUsers).ForEach(func(_, value []byte) error {
			var u User
			if err := json.Unmarshal(value, &u); err != nil {
				return err
			}
			if email != "" && u.Email == email {
				emailTaken = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if emailTaken {
			return ErrUserExists
		}
		salt := hex.EncodeToString(fastrand.Bytes(16))
		now := types.NowTimestamp()
		return putUser(tx, User{
			Username:        username,
			Email:           email,
			PasswordHash:    hashPassword(salt, password),
			Salt:            salt,
			WalletBalance:   types.StartingBalance,
			WalletUpdatedAt: now,
			CreatedAt:       now,
		})
	})
}

// Authenticate checks a username/password pair and returns the user row.
func (m *Market) Authenticate(username, password string) (User, error) {
	u, err := m.User(username)
	if err != nil {
		return User{}, ErrBadCredentials
	}
	if hashPassword(u.Salt, password) != u.PasswordHash {
		return User{}, ErrBadCredentials
	}
	return u, nil
}

// User returns an account row by username.
func (m *Market) User(username string) (User, error) {
	var u User
	err := m.db.View(func(tx *bolt.Tx) error {
		var err error
		u, err = getUser(tx, username)
		return err
	})
	return u, err
}

// Balance returns a user's wallet balance.
func (m *Market) Balance(username string) (float64, error) {
	u, err := m.User(username)
	if err != nil {
		return 0, err
	}
	return u.WalletBalance, nil
}

// Transfer moves amount from one wallet to another in a single write
// transaction: range-checked debit, credit, both updated_at refreshed. Any
// failure rolls back and no balance changes.
func (m *Market) Transfer(from, to string, amount float64) error {
	if amount <= 0 {
		return errors.New("Amount must be positive")
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		sender, err := getUser(tx, from)
		if err != nil {
			return fmt.Errorf("Wallet not found: %s", from)
		}
		receiver, err := getUser(tx, to)
		if err != nil {
			return fmt.Errorf("Wallet not found: %s", to)
		}
		if sender.WalletBalance < amount {
			return fmt.Errorf("Insufficient balance: %s has %.2f", from, sender.WalletBalance)
		}
		now := types.NowTimestamp()
		sender.WalletBalance -= amount
		sender.WalletUpdatedAt = now
		receiver.WalletBalance += amount
		receiver.WalletUpdatedAt = now
		if err := putUser(tx, sender); err != nil {
			return err
		}
		return putUser(tx, receiver)
	})
}

// AddAsset inserts or replaces an asset row.
func (m *Market) AddAsset(a Asset) error {
	if a.CreatedAt == "" {
		a.CreatedAt = types.NowTimestamp()
	}
	value, err := json.Marshal(a)
	if err != nil {
		return errors.AddContext(err, "unable to encode asset row")
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssets).Put([]byte(a.AssetID), value)
	})
}

// Asset returns an asset row by id.
func (m *Market) Asset(assetID string) (Asset, error) {
	var a Asset
	err := m.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketAssets).Get([]byte(assetID))
		if value == nil {
			return ErrAssetNotFound
		}
		return json.Unmarshal(value, &a)
	})
	return a, err
}

// ListedAssets returns every asset currently listed for sale.
func (m *Market) ListedAssets() ([]Asset, error) {
	var out []Asset
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssets).ForEach(func(_, value []byte) error {
			var a Asset
			if err := json.Unmarshal(value, &a); err != nil {
				return errors.AddContext(err, "unable to decode asset row")
			}
			if a.IsListed {
				out = append(out, a)
			}
			return nil
		})
	})
	return out, err
}

// UpdateAssetOwner reassigns an asset to a new owner and delists it, in one
// write. It reports whether a row changed.
func (m *Market) UpdateAssetOwner(assetID, newOwner string) (bool, error) {
	changed := false
	err := m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketAssets)
		value := bucket.Get([]byte(assetID))
		if value == nil {
			return nil
		}
		var a Asset
		if err := json.Unmarshal(value, &a); err != nil {
			return errors.AddContext(err, "unable to decode asset row")
		}
		a.Owner = newOwner
		a.IsListed = false
		updated, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(assetID), updated); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}
