// Command dbtour runs guided walkthroughs of the engine, schema and orm
// packages, and reads table structure back out of a live database.
package main

import (
	"dbtour/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Fatal("%v", err)
	}
}
