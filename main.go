package main

import "github.com/conduitchat/conduit/cmd"

func main() {
	cmd.Execute()
}
