package main

import "github.com/amalgammas/link/cmd"

func main() {
	cmd.Execute()
}
