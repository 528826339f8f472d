// Command warehouse-server runs the warehouse ledger HTTP API.
//
//	warehouse-server serve --store sqlite --db ./data/warehouse.db
//	warehouse-server migrate --store postgres --dsn postgres://...
package main

import (
	"os"

	"github.com/warp/warehouse-ledger/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
