package main

import (
	"os"

	"rag/internal/logger"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		logger.Error("rag failed", "error", err)
		os.Exit(1)
	}
}
