package main

import (
	"fmt"
	"os"

	"github.com/dom/genstudio/internal/client"
	"github.com/dom/genstudio/internal/config"
	"github.com/dom/genstudio/internal/session"
)

// app bundles what every command needs.
type app struct {
	cfg     *config.ClientConfig
	api     *client.APIClient
	session *session.Manager
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	if command == "help" || command == "-h" || command == "--help" {
		printUsage()
		return
	}

	a, err := newApp(os.Getenv("STUDIO_CONFIG"))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	var code int
	switch command {
	case "signup":
		code = a.signupCmd(args)
	case "login":
		code = a.loginCmd(args)
	case "logout":
		code = a.logoutCmd(args)
	case "whoami":
		code = a.whoamiCmd(args)
	case "generate":
		code = a.generateCmd(args)
	case "history":
		code = a.historyCmd(args)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		code = 1
	}

	os.Exit(code)
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return nil, err
	}

	api := client.NewAPIClient(cfg.APIURL, cfg.Timeout)
	mgr := session.NewManager(api, session.NewFileStore(cfg.CredentialsDir))
	if _, err := mgr.Restore(); err != nil {
		return nil, err
	}

	return &app{cfg: cfg, api: api, session: mgr}, nil
}

func printUsage() {
	fmt.Println(`Studio - command line client for the generation service

USAGE:
  studio <command> [options]

COMMANDS:
  signup    Create an account and store the session
  login     Log in and store the session
  logout    Forget the stored session
  whoami    Show the logged in account
  generate  Upload an image and generate from it (Ctrl-C cancels)
  history   List recent generations
  help      Show this help message

CONFIGURATION:
  ~/.genstudio.yaml or the file named by STUDIO_CONFIG, overridden by
  STUDIO_API_URL, STUDIO_CREDENTIALS_DIR, STUDIO_MAX_ATTEMPTS,
  STUDIO_RETRY_BACKOFF, STUDIO_TIMEOUT, STUDIO_HISTORY_LIMIT

EXAMPLES:
  studio signup --email=a@b.com --password=password123
  studio generate --image=cat.png --prompt="sunset" --style=realistic
  studio history --limit=10 --watch`)
}
