package main

import (
	"io"
	"log"
	"os"

	"github.com/mitchellh/cli"

	cmdServer "github.com/doomsday-project/doomsday/subcommand/server"
	cmdVersion "github.com/doomsday-project/doomsday/subcommand/version"
	"github.com/doomsday-project/doomsday/version"
)

func main() {
	ui := &cli.BasicUi{Writer: os.Stdout, ErrorWriter: os.Stderr}
	os.Exit(run(os.Args[1:], ui, os.Stdout))
}

func run(args []string, ui cli.Ui, logOutput io.Writer) int {
	c := cli.NewCLI("doomsdayd", version.GetHumanVersion())
	c.Args = args
	c.Commands = initializeCommands(ui)
	c.HelpFunc = cli.BasicHelpFunc("doomsdayd")
	c.HelpWriter = logOutput

	exitStatus, err := c.Run()
	if err != nil {
		log.Println(err)
	}
	return exitStatus
}

func initializeCommands(ui cli.Ui) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"server": func() (cli.Command, error) {
			return &cmdServer.Command{UI: ui}, nil
		},
		"version": func() (cli.Command, error) {
			return &cmdVersion.Command{UI: ui, Version: version.GetHumanVersion()}, nil
		},
	}
}
