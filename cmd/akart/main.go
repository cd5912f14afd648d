package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/frogdesign/akart/cmd/akart/commands"
)

func main() {
	commands.Execute()
}
