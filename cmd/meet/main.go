package main

import "github.com/vizioway/meet/cmd/meet/cmd"

func main() {
	cmd.Execute()
}
