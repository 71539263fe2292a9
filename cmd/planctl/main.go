package main

import (
	"log"

	"github.com/phrazzld/emplan-api/cmd/planctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
