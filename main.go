package main

import (
	"os"

	"github.com/avstrong/bnb/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
