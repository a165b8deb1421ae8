package main

import (
	"fmt"
	"os"

	"github.com/allaspectsdev/scoutman/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		cmdStart(os.Args[2:])
	case "stop":
		cmdStop()
	case "status":
		cmdStatus()
	case "generate":
		cmdGenerate(os.Args[2:])
	case "search":
		cmdSearch(os.Args[2:])
	case "keys":
		cmdKeys(os.Args[2:])
	case "init-config":
		cmdInitConfig()
	case "config-export":
		cmdConfigExport(os.Args[2:])
	case "install-service":
		cmdInstallService()
	case "uninstall-service":
		cmdUninstallService()
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
	fmt.Println(`Usage: scoutman <command> [options]

Commands:
  start              Start the scoutman daemon
  stop               Stop the running daemon
  status             Show daemon status and provider health
  generate           Run one generation through the fallback chain
  search             Run one web search across the configured providers
  keys               Manage API keys (list|set|delete <provider>)
  init-config        Generate default config file
  config-export      Export current config to a TOML file
  install-service    Install as a user service (launchd or systemd)
  uninstall-service  Remove the user service
  version            Print version information
  help               Show this help message

Options:
  --foreground, -f   Run in foreground (with 'start')
  --max-tokens N     Output token budget (with 'generate')
  --system TEXT      System prompt (with 'generate')
  --fallback         First successful provider only (with 'search')
  --max N            Maximum results (with 'search')
  --json             Print the raw JSON response (with 'generate', 'search')`)
}
