package main

import (
	_ "github.com/joho/godotenv/autoload"

	"dwpipe/internal/cli"
)

func main() {
	cli.Execute()
}
