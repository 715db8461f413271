package main

import (
	"github.com/astromech-labs/droidvision/cmd/droidvision/commands"
)

func main() {
	commands.Execute()
}
