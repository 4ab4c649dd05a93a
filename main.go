package main

import "github.com/peterje/rootrepl/internal/cmd"

func main() {
	cmd.Execute()
}
