package main

import (
	"fmt"
	"os"

	"github.com/rgranger/stripefs/cmd/user/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
