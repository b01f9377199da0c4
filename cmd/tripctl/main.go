// tripctl drives the trip client engine from the command line: gallery
// generation, chat sessions and agent progress streams.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
)

// Options is the root command. The struct tags are interpreted by
// github.com/jessevdk/go-flags.
type Options struct {
	Verbose  bool        `short:"v" long:"verbose" description:"log debug output to stderr"`
	Gallery  GalleryCmd  `command:"gallery" description:"Generate a photo gallery for a trip and wait for it"`
	Chat     ChatCmd     `command:"chat" description:"Send a chat message, optionally continuing a thread"`
	Sessions SessionsCmd `command:"sessions" description:"List server-side conversations"`
	Delete   DeleteCmd   `command:"delete" description:"Delete a conversation"`
	Watch    WatchCmd    `command:"watch" description:"Print agent progress events for a key"`
	History  HistoryCmd  `command:"history" description:"Show journaled activity for a trip or session"`
}

var opts Options

func main() {
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, ferr.Message)
			return
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
