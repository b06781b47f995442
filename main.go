package main

import (
	"errors"
	"os"
)

func main() {
	err := newRootCmd().Execute()

	if logFile != nil {
		logFile.Close()
	}

	if err != nil {
		if errors.Is(err, errInvalidCapability) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
