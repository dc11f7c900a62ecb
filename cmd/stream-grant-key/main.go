// Package main provides a one-shot utility for stream grant key generation.
//
// It emits the asymmetric keypair used to gate live feedback streams.
package main

import (
	"os"

	"github.com/louisbranch/outtake.studio/internal/platform/config"
	"github.com/louisbranch/outtake.studio/internal/tools/streamgrant"
)

func main() {
	if err := streamgrant.Run(os.Stdout, nil); err != nil {
		config.Exitf("generate stream grant key: %v", err)
	}
}
