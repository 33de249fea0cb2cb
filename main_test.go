package main

import (
	"bytes"
	"testing"

	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/require"
)

func TestMain(t *testing.T) {
	ui := cli.NewMockUi()
	var buffer bytes.Buffer

	require.Equal(t, 0, run([]string{
		"server", "-h",
	}, ui, &buffer))
	require.NotEmpty(t, buffer.String())
	buffer.Reset()

	require.Equal(t, 0, run([]string{
		"version",
	}, ui, &buffer))
	require.NotEmpty(t, ui.OutputWriter.String())

	require.Equal(t, 0, run([]string{
		"-h",
	}, ui, &buffer))
	require.NotEmpty(t, buffer.String())
	buffer.Reset()
}

func TestInitializeCommandsListsServerAndVersion(t *testing.T) {
	ui := cli.NewMockUi()
	commands := initializeCommands(ui)

	require.Contains(t, commands, "server")
	require.Contains(t, commands, "version")
}
