// Command abusectl inspects and administers abuse limiter state in Redis.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
