package main

import "github.com/lockgraph/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
