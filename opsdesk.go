package main

import (
	"github.com/opsdesk/opsdesk/cmd"
	"github.com/opsdesk/opsdesk/pkg/env"
	"github.com/opsdesk/opsdesk/pkg/log"
)

func main() {
	if err := env.Process(); err != nil {
		log.Fatal("environment failure", "error", err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal("opsdesk failure", "error", err)
	}
}
