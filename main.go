package main

import (
	"github.com/sw33tLie/emvscope/cmd"
)

func main() {
	cmd.Execute()
}
