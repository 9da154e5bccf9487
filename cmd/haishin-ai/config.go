package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/watchout/haishin-puls-hub-sub001/internal/config"
)

func cmdInitConfig() {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error locating home directory: %v\n", err)
		os.Exit(1)
	}
	path := filepath.Join(home, config.DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "config file already exists at %s\n", path)
		os.Exit(1)
	}
	// No config loaded yet, so this exports the built-in defaults.
	if err := config.ExportTOML(path); err != nil {
		fmt.Fprintf(os.Stderr, "error generating config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config written to %s\n", path)
}

func cmdConfigExport(args []string) {
	path := "haishin-ai-export.toml"
	if len(args) > 0 {
		path = args[0]
	}
	// Load current config first.
	config.Load("")
	if err := config.ExportTOML(path); err != nil {
		fmt.Fprintf(os.Stderr, "error exporting config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config exported to %s\n", path)
}
