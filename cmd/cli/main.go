package main

import (
	"github.com/retailkit/crmctl/pkg/cli"
)

func main() {
	cli.Execute()
}
