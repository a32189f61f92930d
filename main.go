package main

import "github.com/brensch/tilepull/cmd"

func main() {
	cmd.Execute()
}
