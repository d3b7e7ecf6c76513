package main

import (
	"os"

	deploy "github.com/psxresearch/deployctl"
	"github.com/psxresearch/deployctl/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(deploy.ExitCode(err))
	}
}
