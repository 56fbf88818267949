package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/agrolink/chatsync/internal/session"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file path (overrides default)")
	flag.Parse()

	profile := session.ResolveProfile(*profileFlag)
	if err := session.ValidateProfile(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	credential := os.Getenv("CHATSYNC_CREDENTIAL")
	if credential == "" {
		fmt.Fprintln(os.Stderr, "error: CHATSYNC_CREDENTIAL is not set")
		os.Exit(1)
	}

	app := fx.New(
		session.Module(session.Params{
			Profile:    profile,
			Credential: credential,
			ConfigPath: *configFlag,
		}),
	)

	app.Run()
}
