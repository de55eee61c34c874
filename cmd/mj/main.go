package main

import (
	"os"

	"github.com/bnema/meetjot/cmd"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; exported variables always win.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
