package main

import "github.com/vuxmai/sweeper/internal/cli"

func main() {
	cli.Execute()
}
