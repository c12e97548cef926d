// Command assistant runs the Firefly III expense assistant.
//
// Usage:
//
//	assistant [run]          start the daemon (default)
//	assistant sync           run one sync cycle and exit
//	assistant status         check configuration and connectivity
//	assistant token <user>   mint an HTTP API token
package main

import (
	"fmt"
	"os"

	"github.com/dkotama/firefly-telegram-assistant/pkg/config"
	"github.com/dkotama/firefly-telegram-assistant/pkg/logging"
)

const usage = `Usage: assistant <command>

Commands:
  run              Start the assistant daemon (default)
  sync             Sync transactions from the reader once and exit
  status           Check configuration and connectivity
  token <user-id>  Mint an HTTP API token (-ttl 720h)
  help             Show this message
`

func main() {
	logger := logging.Setup(logging.DefaultConfig())

	cmd := "run"
	var args []string
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	configPath := os.Getenv(config.FileEnv)

	var err error
	switch cmd {
	case "run":
		err = runAssistant(logger, configPath)
	case "sync":
		err = runSync(logger, configPath)
	case "status":
		err = runStatus(configPath)
	case "token":
		err = runToken(configPath, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}
