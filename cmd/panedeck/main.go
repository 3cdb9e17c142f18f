package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/asheshgoplani/panedeck/internal/config"
	"github.com/asheshgoplani/panedeck/internal/logging"
	"github.com/asheshgoplani/panedeck/internal/platform"
)

const Version = "0.4.0"

// init sets up color profile for consistent terminal colors across environments
func init() {
	initColorProfile()
}

// initColorProfile configures lipgloss color profile based on terminal capabilities.
func initColorProfile() {
	// PANEDECK_COLOR: truecolor, 256, 16, none
	if colorEnv := os.Getenv("PANEDECK_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}
	if os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.ANSI256)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		return
	}

	var err error
	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("Panedeck v%s (%s)\n", Version, platform.Detect())
		return
	case "help", "--help", "-h":
		printHelp()
		return
	case "serve":
		err = handleServe(args[1:])
	case "attach":
		err = handleAttach(args[1:])
	case "layout":
		err = handleLayout(args[1:])
	case "panels":
		err = handlePanels(args[1:])
	case "config":
		err = handleConfig(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args[0])
		printHelp()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("Panedeck v%s\n", Version)
	fmt.Println("Dockable project workspaces with persistent terminals.")
	fmt.Println()
	fmt.Println("Usage: panedeck <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                 Run the workspace server")
	fmt.Println("  attach <terminal-id>  Attach this terminal to a workspace terminal (Ctrl+Q detaches)")
	fmt.Println("  layout list           List stored workspace layouts")
	fmt.Println("  layout show <id>      Print a workspace's stored layout")
	fmt.Println("  layout reset <id>     Forget a workspace's layout so the default is rebuilt")
	fmt.Println("  panels [query]        List panel kinds, or resolve a name to one")
	fmt.Println("  config init           Write a config file with a generated API token")
	fmt.Println("  config path           Print the config file location")
	fmt.Println("  version               Print the version")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  PANEDECK_HOME         State directory (default ~/.panedeck)")
	fmt.Println("  PANEDECK_DEBUG        Write debug logs to $PANEDECK_HOME/debug.log")
	fmt.Println("  PANEDECK_COLOR        truecolor, 256, 16 or none")
}

// initLogging writes JSONL logs to $PANEDECK_HOME/debug.log with rotation.
// PANEDECK_DEBUG raises the level to debug.
func initLogging() {
	dir, err := config.GetPanedeckDir()
	if err != nil {
		logging.Init(logging.Config{})
		return
	}
	settings := config.GetLogSettings()
	debug := os.Getenv("PANEDECK_DEBUG") != ""
	logging.Init(logging.Config{
		Debug:             debug,
		LogDir:            dir,
		Level:             settings.Level,
		Format:            settings.Format,
		MaxSizeMB:         settings.MaxSizeMB,
		MaxBackups:        settings.Backups,
		MaxAgeDays:        settings.RetentionDays,
		Compress:          settings.Compress,
		RingBufferSize:    10 * 1024 * 1024,
		AggregateInterval: time.Duration(settings.AggregateIntervalSecs) * time.Second,
	})
}
