package main

import (
	"os"
)

var (
	GitCommit string
	GitTag    string
	BuildTime string
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
