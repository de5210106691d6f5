package main

import (
	"os"

	scoutcmder "github.com/papercomputeco/scout/cmd/scout"
)

func main() {
	cmd := scoutcmder.NewScoutCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
