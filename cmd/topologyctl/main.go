// Package main provides topologyctl, which validates topology files and
// renders their plan documents.
package main

import (
	"os"

	"github.com/meni432/hello-cdk-aws-lab/cmd/topologyctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
