package main

import (
	"fmt"
	"os"

	"github.com/watchout/haishin-puls-hub-sub001/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "keys":
		cmdKeys(os.Args[2:])
	case "init-config":
		cmdInitConfig()
	case "config-export":
		cmdConfigExport(os.Args[2:])
	case "version":
		fmt.Println(version.String())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: haishin-ai <command> [options]

Commands:
  serve          Start the AI request server
  keys           Manage provider API keys (list|set|delete <provider>)
  init-config    Generate default config file
  config-export  Export current config to a TOML file
  version        Print version information
  help           Show this help message

Options:
  --config <path>  Config file to use (with 'serve')
  --quiet          Suppress console log output (with 'serve')`)
}
