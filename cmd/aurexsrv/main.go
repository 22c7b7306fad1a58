// Aurexsrv is the marketplace app server daemon: the TLS client protocol,
// the wallet/asset store, and the purchase pipeline.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/naoina/toml"
	"github.com/spf13/cobra"

	"github.com/water-bottle-afk/aurex/appserver"
	"github.com/water-bottle-afk/aurex/build"
	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/modules/market"
	"github.com/water-bottle-afk/aurex/modules/pipeline"
	"github.com/water-bottle-afk/aurex/persist"
)

// Config holds every tunable of the app server daemon.
type Config struct {
	Addr        string `toml:"addr"`
	ConfirmAddr string `toml:"confirm_addr"`
	Gateway     string `toml:"gateway"`
	CertFile    string `toml:"cert_file"`
	KeyFile     string `toml:"key_file"`
	Dir         string `toml:"dir"`
	Seed        bool   `toml:"seed"`
}

var config = Config{
	Addr:        "localhost:18000",
	ConfirmAddr: "localhost:18010",
	Gateway:     "localhost:17000",
	Dir:         filepath.Join(persist.HomeFolder, modules.AppServerDir),
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
		"addr":         func() { config.Addr = fromFlags.Addr },
		"confirm-addr": func() { config.ConfirmAddr = fromFlags.ConfirmAddr },
		"gateway":      func() { config.Gateway = fromFlags.Gateway },
		"cert":         func() { config.CertFile = fromFlags.CertFile },
		"key":          func() { config.KeyFile = fromFlags.KeyFile },
		"dir":          func() { config.Dir = fromFlags.Dir },
		"seed":         func() { config.Seed = fromFlags.Seed },
	} {
		if cmd.Flags().Changed(flag) {
			apply()
		}
	}
	return nil
}

// startDaemon wires the store, the pipeline, and the TLS server, and runs
// until an interrupt arrives.
func startDaemon(cmd *cobra.Command) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	if err := persist.MkdirAll(config.Dir); err != nil {
		return err
	}

	m, err := market.Open(config.Dir)
	if err != nil {
		return err
	}
	defer m.Close()
	if config.Seed {
		if err := m.Seed(); err != nil {
			return err
		}
		fmt.Println("seeded demo users and assets")
	}

	notifyLog, err := persist.NewLogger(filepath.Join(config.Dir, "notifications.log"))
	if err != nil {
		return err
	}
	defer notifyLog.Close()

	p, err := pipeline.New(pipeline.Config{
		GatewayAddr: modules.NetAddress(config.Gateway),
		ConfirmAddr: modules.NetAddress(config.ConfirmAddr),
		Market:      m,
		Notifier:    pipeline.LogNotifier{Log: notifyLog},
		Dir:         config.Dir,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	srv, err := appserver.New(appserver.Config{
		Addr:     modules.NetAddress(config.Addr),
		CertFile: config.CertFile,
		KeyFile:  config.KeyFile,
		Market:   m,
		Pipeline: p,
		Dir:      config.Dir,
	})
	if err != nil {
		return err
	}
	defer srv.Close()
	fmt.Printf("aurexsrv %s: tls on %s, confirmations on %s, gateway %s\n",
		build.Version, srv.Address(), p.ConfirmAddr(), config.Gateway)

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

// versionCmd prints version information about the app server daemon.
func versionCmd(*cobra.Command, []string) {
	fmt.Println("Aurex App Server Daemon v" + build.Version)
}

func main() {
	root := &cobra.Command{
		Use:   os.Args[0],
		Short: "Aurex App Server Daemon v" + build.Version,
		Long:  "Aurex App Server Daemon v" + build.Version,
		Run:   startDaemonCmd,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print version information about the Aurex App Server Daemon",
		Run:   versionCmd,
	})

	root.Flags().StringVarP(&config.Addr, "addr", "a", config.Addr, "TLS listen address for clients")
	root.Flags().StringVar(&config.ConfirmAddr, "confirm-addr", config.ConfirmAddr, "listen address for gateway confirmations")
	root.Flags().StringVarP(&config.Gateway, "gateway", "g", config.Gateway, "gateway submission endpoint")
	root.Flags().StringVar(&config.CertFile, "cert", "", "TLS certificate file (self-signed pair generated when empty)")
	root.Flags().StringVar(&config.KeyFile, "key", "", "TLS key file")
	root.Flags().StringVarP(&config.Dir, "dir", "d", config.Dir, "data directory")
	root.Flags().BoolVar(&config.Seed, "seed", false, "load the demo users and assets before serving")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")

	root.Execute()
}
