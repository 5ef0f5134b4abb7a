package main

import (
	"os"

	"github.com/wegman-software/vector2pgsql-go/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
