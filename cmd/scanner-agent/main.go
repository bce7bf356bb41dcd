package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/noah-isme/booth-checkin/internal/agentcli"
	appErrors "github.com/noah-isme/booth-checkin/pkg/errors"
)

const (
	exitError      = 1
	exitQueueBroke = 3
)

func main() {
	if err := agentcli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, appErrors.ErrQueueCorruption) {
			os.Exit(exitQueueBroke)
		}
		os.Exit(exitError)
	}
}
