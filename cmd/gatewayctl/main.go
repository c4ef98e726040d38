package main

import (
	"os"

	"github.com/af-corp/antigravity-gateway/cmd/gatewayctl/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
