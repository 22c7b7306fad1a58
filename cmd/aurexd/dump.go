package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/water-bottle-afk/aurex/modules/ledger"
)

// dumpCmd builds the subcommand that prints a ledger file block by block
// without starting the node.
func dumpCmd() *cobra.Command {
	var dir string
	var port int

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print a node's ledger",
		Long:  "Print the blocks of a node's ledger file without starting the node.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := dumpLedger(dir, port); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", config.Dir, "data directory holding the ledger")
	cmd.Flags().IntVarP(&port, "port", "p", 16000, "listen port the ledger belongs to")
	return cmd
}

// dumpLedger opens the ledger read-only and prints one line per block.
func dumpLedger(dir string, port int) error {
	l, err := ledger.Open(dir, port)
	if err != nil {
		return err
	}
	defer l.Close()

	blocks, err := l.Blocks(0)
	if err != nil {
		return err
	}
	fmt.Printf("ledger %s: %d blocks\n", ledger.Filename(port), len(blocks))
	for _, b := range blocks {
		fmt.Printf("  %4d  %.16s…  miner %.8s…  %d txs  %s\n",
			b.Index, b.CurrentHash, b.MinerID, len(b.Transactions), b.Timestamp)
	}
	return nil
}
