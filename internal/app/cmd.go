package app

import (
	"fmt"
	"strings"
)

// Command は起動モード。
type Command string

const (
	CommandServe       Command = "serve"
	CommandWorker      Command = "worker"
	CommandMigrate     Command = "migrate"
	CommandHealthcheck Command = "healthcheck"
)

var commands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck}

// MigrateAction はmigrateサブコマンドの動作。
type MigrateAction string

const (
	MigrateUp      MigrateAction = "up"
	MigrateDown    MigrateAction = "down"
	MigrateVersion MigrateAction = "version"
)

// Invocation は解析済みのコマンドライン。
type Invocation struct {
	Command Command
	// Migrate はCommandMigrateのときのみ意味を持つ。
	Migrate MigrateAction
}

// ParseCommand はos.Args[1:]を解析する。
// 引数なしはserve。未知のサブコマンドは利用可能な一覧つきのエラーになる。
// migrateは続く引数で up（既定）/ down / version を選ぶ。
func ParseCommand(args []string) (Invocation, error) {
	if len(args) == 0 || args[0] == "" {
		return Invocation{Command: CommandServe}, nil
	}

	cmd := Command(args[0])
	switch cmd {
	case CommandServe, CommandWorker, CommandHealthcheck:
		return Invocation{Command: cmd}, nil
	case CommandMigrate:
		action := MigrateUp
		if len(args) > 1 {
			action = MigrateAction(args[1])
		}
		switch action {
		case MigrateUp, MigrateDown, MigrateVersion:
			return Invocation{Command: cmd, Migrate: action}, nil
		}
		return Invocation{}, fmt.Errorf("unknown migrate action %q (want up, down or version)", action)
	}
	return Invocation{}, fmt.Errorf("unknown command %q (available: %s)", args[0], availableCommands())
}

func availableCommands() string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
