package console

import (
	"fmt"
	"strings"
)

// Action is a console command after alias resolution.
type Action string

const (
	ActionNone            Action = ""
	ActionStartAll        Action = "start"
	ActionStopAll         Action = "stop"
	ActionRestartAll      Action = "restart"
	ActionRestartBackend  Action = "restart-backend"
	ActionRestartFrontend Action = "restart-frontend"
	ActionStart           Action = "start-service"
	ActionStop            Action = "stop-service"
	ActionRestart         Action = "restart-service"
	ActionStatus          Action = "status"
	ActionForceKillAll    Action = "force-kill-all"
	ActionClearLogs       Action = "clear-logs"
	ActionOpenBrowser     Action = "open-browser"
	ActionHelp            Action = "help"
	ActionQuit            Action = "quit"
)

// Command is one parsed input line.
type Command struct {
	Action  Action
	Service string // set for the per-service actions
}

var aliases = map[string]Action{
	"1": ActionStartAll, "start": ActionStartAll,
	"2": ActionStopAll, "stop": ActionStopAll,
	"3": ActionRestartAll, "restart": ActionRestartAll,
	"4": ActionRestartBackend, "rb": ActionRestartBackend, "restart-backend": ActionRestartBackend,
	"5": ActionRestartFrontend, "rf": ActionRestartFrontend, "restart-frontend": ActionRestartFrontend,
	"6": ActionStatus, "status": ActionStatus,
	"7": ActionHelp, "help": ActionHelp, "?": ActionHelp,
	"0": ActionQuit, "quit": ActionQuit, "exit": ActionQuit, "q": ActionQuit,
	"8": ActionForceKillAll, "force-kill-all": ActionForceKillAll, "fk": ActionForceKillAll,
	"9": ActionClearLogs, "clear-logs": ActionClearLogs, "clear": ActionClearLogs, "cls": ActionClearLogs,
	"open-browser": ActionOpenBrowser, "open": ActionOpenBrowser, "browser": ActionOpenBrowser,
}

var perService = map[Action]Action{
	ActionStartAll:   ActionStart,
	ActionStopAll:    ActionStop,
	ActionRestartAll: ActionRestart,
}

// Parse resolves a line. Commands are case-insensitive; "start", "stop" and
// "restart" take an optional service name, matched as typed. A blank line yields ActionNone.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, nil
	}
	verb := strings.ToLower(fields[0])
	act, ok := aliases[verb]
	if !ok {
		return Command{}, fmt.Errorf("unknown command: %s", fields[0])
	}
	switch len(fields) {
	case 1:
		return Command{Action: act}, nil
	case 2:
		if one, ok := perService[act]; ok && !isDigits(verb) {
			return Command{Action: one, Service: fields[1]}, nil
		}
	}
	return Command{}, fmt.Errorf("unexpected arguments for %s: %s", verb, strings.Join(fields[1:], " "))
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

const helpText = `Commands:
  1 / start [name]    start all services, or one
  2 / stop [name]     stop all services, or one
  3 / restart [name]  restart all services, or one
  4 / rb              restart the backend only
  5 / rf              restart the frontend only
  6 / status          show service status
  7 / help            show this help
  8 / force-kill-all  kill orphaned service processes
  9 / clear-logs      clear the screen
  open-browser        open the frontend in a browser
  0 / quit            stop all services and exit
`
