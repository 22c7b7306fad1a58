// Aurexd is the proof-of-work mining node daemon.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/naoina/toml"
	"github.com/spf13/cobra"

	"github.com/water-bottle-afk/aurex/api"
	"github.com/water-bottle-afk/aurex/build"
	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/modules/node"
	"github.com/water-bottle-afk/aurex/persist"
	"github.com/water-bottle-afk/aurex/types"
)

// Config holds every tunable of the node daemon, in flag > config file >
// default precedence.
type Config struct {
	Addr       string   `toml:"addr"`
	Peers      []string `toml:"peers"`
	Gateway    string   `toml:"gateway"`
	Difficulty int      `toml:"difficulty"`
	Dir        string   `toml:"dir"`
	APIAddr    string   `toml:"api_addr"`
}

var config = Config{
	Addr:       "localhost:16000",
	Difficulty: types.DefaultDifficulty,
	Dir:        filepath.Join(persist.HomeFolder, modules.NodeDir),
}

var configPath string

// loadConfig overlays the TOML file onto the defaults, then re-applies any
// flag the user set explicitly.
func loadConfig(cmd *cobra.Command) error {
	if configPath == "" {
		return nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}
	fromFlags := config
	if err := toml.Unmarshal(data, &config); err != nil {
		return err
	}
	for flag, apply := range map[string]func(){
		"addr":       func() { config.Addr = fromFlags.Addr },
		"peers":      func() { config.Peers = fromFlags.Peers },
		"gateway":    func() { config.Gateway = fromFlags.Gateway },
		"difficulty": func() { config.Difficulty = fromFlags.Difficulty },
		"dir":        func() { config.Dir = fromFlags.Dir },
		"api-addr":   func() { config.APIAddr = fromFlags.APIAddr },
	} {
		if cmd.Flags().Changed(flag) {
			apply()
		}
	}
	return nil
}

// startDaemon runs the node until an interrupt arrives.
func startDaemon(cmd *cobra.Command) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	peers := make([]modules.NetAddress, 0, len(config.Peers))
	for _, p := range config.Peers {
		peers = append(peers, modules.NetAddress(p))
	}

	n, err := node.New(node.Config{
		Addr:        modules.NetAddress(config.Addr),
		Peers:       peers,
		GatewayAddr: modules.NetAddress(config.Gateway),
		Difficulty:  config.Difficulty,
		Dir:         config.Dir,
	})
	if err != nil {
		return err
	}
	defer n.Close()
	fmt.Printf("aurexd %s: node %s listening on %s, difficulty %d\n",
		build.Version, n.NodeID(), n.Address(), config.Difficulty)

	if config.APIAddr != "" {
		srv, err := api.New(config.APIAddr, n)
		if err != nil {
			return err
		}
		defer srv.Close()
		fmt.Println("status api on", srv.Address())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\nshutting down...")
	return nil
}

// startDaemonCmd is a passthrough function for startDaemon.
func startDaemonCmd(cmd *cobra.Command, _ []string) {
	if err := startDaemon(cmd); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// versionCmd prints version information about the node daemon.
func versionCmd(*cobra.Command, []string) {
	fmt.Println("Aurex Node Daemon v" + build.Version)
}

func main() {
	root := &cobra.Command{
		Use:   os.Args[0],
		Short: "Aurex Node Daemon v" + build.Version,
		Long:  "Aurex Node Daemon v" + build.Version,
		Run:   startDaemonCmd,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print version information about the Aurex Node Daemon",
		Run:   versionCmd,
	})
	root.AddCommand(dumpCmd())

	root.Flags().StringVarP(&config.Addr, "addr", "a", config.Addr, "listen address for the node's wire protocol")
	root.Flags().StringSliceVarP(&config.Peers, "peers", "p", nil, "full node set, self included")
	root.Flags().StringVarP(&config.Gateway, "gateway", "g", "", "gateway address for block confirmations")
	root.Flags().IntVarP(&config.Difficulty, "difficulty", "D", config.Difficulty, "leading hex zeros required of a block hash")
	root.Flags().StringVarP(&config.Dir, "dir", "d", config.Dir, "data directory")
	root.Flags().StringVar(&config.APIAddr, "api-addr", "", "listen address for the read-only status api (off when empty)")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")

	root.Execute()
}
