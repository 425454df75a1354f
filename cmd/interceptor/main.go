package main

import (
	"os"

	"github.com/int3rceptor/interceptor/cmd/interceptor/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
