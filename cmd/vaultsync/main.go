// vaultsync keeps a local task vault (habits, dailies, todos, rewards and the
// player record) in SQLite and replays every change to a remote collector
// whenever the network allows.
//
// Usage:
//
//	vaultsync setup                         # interactive first-run wizard
//	vaultsync daemon [--config <path>]      # connectivity monitor + periodic sync
//	vaultsync sync-once [--config <path>]   # flush the queue once, then exit
//	vaultsync serve [--listen addr]         # run the bundled collector
//	vaultsync status                        # show vault, queue and config state
//	vaultsync queue list|clear              # inspect or drop pending changes
//	vaultsync add|list|score|toggle|redeem  # work with the vault
//	vaultsync version                       # print version
package main

import (
	"fmt"
	"os"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
