package node

// persist.go handles the node settings file, which exists to make the node
// UUID stable across restarts. The ledger and keypair have their own
// persistence.

import (
	"os"
	"path/filepath"

	"gitlab.com/NebulousLabs/errors"

	"github.com/water-bottle-afk/aurex/persist"
)

var settingsMetadata = persist.Metadata{
	Header:  "Aurex Node Settings",
	Version: "1.0",
}

// nodeSettings is the persisted portion of a node's identity.
type nodeSettings struct {
	NodeID string `json:"node_id"`
}

func settingsPath(dir string) string {
	return filepath.Join(dir, "node.json")
}

func logPath(dir string) string {
	return filepath.Join(dir, "node.log")
}

// loadOrCreateIdentity restores the node UUID from the settings file,
// minting and persisting a fresh one on first boot.
func loadOrCreateIdentity(dir string) (string, error) {
	var settings nodeSettings
	err := persist.LoadJSON(settingsMetadata, &settings, settingsPath(dir))
	if err == nil {
		if settings.NodeID == "" {
			return "", errors.New("settings file holds an empty node id")
		}
		return settings.NodeID, nil
	}
	if !os.IsNotExist(err) {
		return "", errors.AddContext(err, "unable to load node settings")
	}
	settings.NodeID = generateNodeID()
	err = persist.SaveJSON(settingsMetadata, settings, settingsPath(dir))
	if err != nil {
		return "", errors.AddContext(err, "unable to save node settings")
	}
	return settings.NodeID, nil
}
