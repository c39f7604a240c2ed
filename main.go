package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/teemow/calmcp/cmd"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Variables already in the environment win over .env.
	_ = godotenv.Load()

	cmd.SetVersion(version)
	os.Exit(cmd.Execute(os.Args[1:], os.Stderr))
}
