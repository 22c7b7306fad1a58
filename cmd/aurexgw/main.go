// Aurexgw is the gateway daemon: fan-out of client submissions to the
// mining nodes and fan-in of block confirmations to the app server.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/naoina/toml"
	"github.com/spf13/cobra"

	"github.com/water-bottle-afk/aurex/build"
	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/modules/gateway"
	"github.com/water-bottle-afk/aurex/persist"
)

// Config holds every tunable of the gateway daemon.
type Config struct {
	Addr      string   `toml:"addr"`
	Nodes     []string `toml:"nodes"`
	AppServer string   `toml:"app_server"`
	Dir       string   `toml:"dir"`
}

var config = Config{
	Addr: "localhost:17000",
	Dir:  filepath.Join(persist.HomeFolder, modules.GatewayDir),
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
		"nodes":      func() { config.Nodes = fromFlags.Nodes },
		"app-server": func() { config.AppServer = fromFlags.AppServer },
		"dir":        func() { config.Dir = fromFlags.Dir },
	} {
		if cmd.Flags().Changed(flag) {
			apply()
		}
	}
	return nil
}

// startDaemon runs the gateway until an interrupt arrives.
func startDaemon(cmd *cobra.Command) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	nodes := make([]modules.NetAddress, 0, len(config.Nodes))
	for _, n := range config.Nodes {
		nodes = append(nodes, modules.NetAddress(n))
	}

	g, err := gateway.New(gateway.Config{
		Addr:          modules.NetAddress(config.Addr),
		Nodes:         nodes,
		AppServerAddr: modules.NetAddress(config.AppServer),
		Dir:           config.Dir,
	})
	if err != nil {
		return err
	}
	defer g.Close()
	fmt.Printf("aurexgw %s: listening on %s, %d nodes\n",
		build.Version, g.Address(), len(nodes))

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

// versionCmd prints version information about the gateway daemon.
func versionCmd(*cobra.Command, []string) {
	fmt.Println("Aurex Gateway Daemon v" + build.Version)
}

func main() {
	root := &cobra.Command{
		Use:   os.Args[0],
		Short: "Aurex Gateway Daemon v" + build.Version,
		Long:  "Aurex Gateway Daemon v" + build.Version,
		Run:   startDaemonCmd,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print version information about the Aurex Gateway Daemon",
		Run:   versionCmd,
	})

	root.Flags().StringVarP(&config.Addr, "addr", "a", config.Addr, "listen address for submissions and confirmations")
	root.Flags().StringSliceVarP(&config.Nodes, "nodes", "n", nil, "mining node endpoints to fan out to")
	root.Flags().StringVar(&config.AppServer, "app-server", "", "app server confirmation endpoint")
	root.Flags().StringVarP(&config.Dir, "dir", "d", config.Dir, "data directory")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")

	root.Execute()
}
