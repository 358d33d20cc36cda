// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Review   ReviewCmd   `cmd:"" help:"Review a code submission"`
	History  HistoryCmd  `cmd:"" help:"Search past feedback for a submitter"`
	Sessions SessionsCmd `cmd:"" help:"List sessions or replay one session's event log"`
	Watch    WatchCmd    `cmd:"" help:"Watch a directory and review files as they change"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// ReviewCmd submits a file for review and optionally runs the fix pass.
type ReviewCmd struct {
	File      string `arg:"" help:"Source file to review"`
	Submitter string `short:"s" required:"" help:"Submitter identity"`
	Session   string `help:"Existing session ID to resubmit into"`
	Fix       bool   `help:"Run the automated fix pass when the review offers one"`
	TUI       bool   `help:"Show live pipeline progress"`
	Offline   bool   `help:"Use the deterministic static worker (no LLM calls)"`
	Config    string `help:"Config file path"`
}

// HistoryCmd searches the feedback history index.
type HistoryCmd struct {
	Submitter string `arg:"" help:"Submitter identity"`
	Query     string `short:"q" help:"Full-text query over past feedback"`
	Limit     int    `default:"5" help:"Maximum records to show"`
	Config    string `help:"Config file path"`
}

// WatchCmd watches a directory and reviews files on change.
type WatchCmd struct {
	Dir       string `arg:"" optional:"" default:"." help:"Directory to watch"`
	Manifest  string `default:".reviewd.yaml" help:"Watch manifest path, relative to the directory"`
	Submitter string `short:"s" help:"Submitter identity (overrides the manifest)"`
	Offline   bool   `help:"Use the deterministic static worker (no LLM calls)"`
	Config    string `help:"Config file path"`
}

// SessionsCmd lists sessions or replays one session's event log.
type SessionsCmd struct {
	ID     string `arg:"" optional:"" help:"Session ID to replay"`
	Limit  int    `default:"20" help:"Maximum sessions to list"`
	Config string `help:"Config file path"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
