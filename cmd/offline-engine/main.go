package main

import (
	"os"

	"github.com/studyquest/offline-engine/internal/cmd"
)

func main() {
	if err := cmd.RootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
