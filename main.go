package main

import "github.com/sw33tLie/togetter/cmd"

func main() {
	cmd.Execute()
}
