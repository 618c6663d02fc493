package main

import "github.com/tanq16/downpour/cmd"

func main() {
	cmd.Execute()
}
