package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/asheshgoplani/panedeck/internal/config"
)

func handleConfig(args []string) error {
	if len(args) == 0 {
		printConfigHelp()
		return nil
	}
	switch args[0] {
	case "path":
		path, err := config.GetUserConfigPath()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	case "init":
		return handleConfigInit(args[1:])
	case "help", "--help", "-h":
		printConfigHelp()
		return nil
	}
	printConfigHelp()
	return fmt.Errorf("unknown config command %q", args[0])
}

func printConfigHelp() {
	fmt.Println("Usage: panedeck config <path|init> [--force] [--json]")
}

// handleConfigInit writes a config file carrying a generated API token.
func handleConfigInit(args []string) error {
	fs := flag.NewFlagSet("config init", flag.ContinueOnError)
	force := fs.Bool("force", false, "Overwrite an existing config file")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return ignoreHelp(err)
	}
	out := NewCLIOutput(*jsonOutput, false)

	path, err := config.GetUserConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !*force {
		out.Error(path+" already exists (use --force to overwrite)", ErrCodeExists)
		return nil
	}

	cfg := &config.UserConfig{}
	if *force {
		if loaded, err := config.LoadUserConfig(); err == nil && loaded != nil {
			cfg = loaded
		}
	}
	cfg.Web = config.GetWebSettings()
	if cfg.Web.Token == "" {
		cfg.Web.Token = uuid.NewString()
	}
	if err := config.SaveUserConfig(cfg); err != nil {
		return err
	}
	out.Success("Wrote "+path, map[string]any{
		"path":  path,
		"token": cfg.Web.Token,
	})
	return nil
}
