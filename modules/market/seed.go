package market

// seed.go loads the demo fixture: two accounts and the six sample assets,
// all listed and owned by alice. The fixture backs the end-to-end scenario
// tests and the --seed flag of the app server daemon.

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"github.com/water-bottle-afk/aurex/types"
)

// seedAssets are the demo marketplace items.
var seedAssets = []Asset{
	{AssetID: "deer", AssetName: "Deer", Cost: 9.99},
	{AssetID: "honeybird", AssetName: "Honeybird", Cost: 7.99},
	{AssetID: "jerusalem", AssetName: "Jerusalem", Cost: 12.99},
	{AssetID: "lion", AssetName: "Lion", Cost: 10.99},
	{AssetID: "tiger", AssetName: "Tiger", Cost: 11.99},
	{AssetID: "wolf", AssetName: "Wolf", Cost: 10.99},
}

// Seed installs the demo users and assets. Existing rows with the same keys
// are overwritten; everything else is untouched, so seeding an already
// seeded store is harmless.
func (m *Market) Seed() error {
	if err := m.seedUser("alice", "alice", "alice@example.com", 100.0); err != nil {
		return err
	}
	if err := m.seedUser("bob", "bob", "bob@example.com", 0.0); err != nil {
		return err
	}
	for _, a := range seedAssets {
		a.Owner = "alice"
		a.IsListed = true
		if err := m.AddAsset(a); err != nil {
			return err
		}
	}
	return nil
}

// seedUser creates a demo account with an explicit balance, replacing any
// existing row.
func (m *Market) seedUser(username, password, email string, balance float64) error {
	salt := "00000000000000000000000000000000" // deterministic fixture salt
	now := types.NowTimestamp()
	u := User{
		Username:        username,
		Email:           email,
		PasswordHash:    hashPassword(salt, password),
		Salt:            salt,
		WalletBalance:   balance,
		WalletUpdatedAt: now,
		CreatedAt:       now,
	}
	value, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).Put([]byte(u.Username), value)
	})
}
