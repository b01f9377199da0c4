package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ashureev/tripsync/internal/domain"
	"github.com/ashureev/tripsync/internal/progress"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printEvent(ev domain.ProgressEvent) {
	line := fmt.Sprintf("[%d] %-10s %-9s", ev.Sequence, ev.SourceID, ev.Phase)
	if ev.Message != "" {
		line += " " + ev.Message
	}
	fmt.Println(line)
}

// GalleryCmd requests a gallery and blocks until tracking ends.
type GalleryCmd struct {
	Watch bool `short:"w" long:"watch" description:"also print agent progress events"`
	Args  struct {
		TripID string `positional-arg-name:"trip-id" required:"yes"`
	} `positional-args:"yes"`
}

func (c *GalleryCmd) Execute(_ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if c.Watch {
		unsub, err := a.client.SubscribeProgress(ctx, c.Args.TripID, printEvent)
		if err != nil {
			a.logger.Warn("Progress stream unavailable", "error", err)
		} else {
			defer unsub()
		}
	}

	o, err := a.client.RequestGallery(ctx, c.Args.TripID)
	if err != nil {
		return err
	}
	updates, cancel := o.Subscribe()
	defer cancel()

	var last domain.JobStatus
loop:
	for {
		select {
		case <-ctx.Done():
			o.Dispose()
			return ctx.Err()
		case j, ok := <-updates:
			if !ok {
				break loop
			}
			if j.Status != last {
				fmt.Printf("gallery %s: %s (polls %d, retries %d)\n", j.ID, j.Status, j.Polls, j.RetryCount)
				last = j.Status
			}
		}
	}
	<-o.Done()

	snap := o.Snapshot()
	switch {
	case snap.Stalled:
		fmt.Printf("gallery %s is still processing after %d polls; run the command again later\n", snap.ID, snap.Polls)
	case snap.Status == domain.JobCompleted:
		for _, p := range snap.Resources {
			fmt.Printf("  %-20s %d photos\n", p.Name, len(p.Photos))
		}
		if snap.LastError != nil {
			fmt.Println("some photos could not be loaded:", snap.LastError.Message)
		}
	case snap.LastError != nil:
		return snap.LastError
	}
	return nil
}

// ChatCmd sends one message.
type ChatCmd struct {
	Session string `short:"s" long:"session" description:"continue an existing thread id"`
	Args    struct {
		Message []string `positional-arg-name:"message" required:"yes"`
	} `positional-args:"yes"`
}

func (c *ChatCmd) Execute(_ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id, r := a.client.NewSession()
	if c.Session != "" {
		if err := a.client.OpenSession(ctx, id, c.Session); err != nil {
			return err
		}
	}
	msg, err := a.client.SendMessage(ctx, id, strings.Join(c.Args.Message, " "))
	if err != nil {
		if msg.Error != nil {
			return msg.Error
		}
		return err
	}
	fmt.Println(msg.Content)
	fmt.Printf("\nthread: %s\n", r.ThreadID())
	return nil
}

// SessionsCmd lists conversations.
type SessionsCmd struct{}

func (c *SessionsCmd) Execute(_ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.client.ListSessions(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "THREAD\tUPDATED\tTITLE")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.UpdatedAt.Local().Format(time.DateTime), s.Title)
	}
	return tw.Flush()
}

// DeleteCmd deletes a conversation.
type DeleteCmd struct {
	Args struct {
		ThreadID string `positional-arg-name:"thread-id" required:"yes"`
	} `positional-args:"yes"`
}

func (c *DeleteCmd) Execute(_ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.client.DeleteSession(ctx, c.Args.ThreadID); err != nil {
		return err
	}
	fmt.Println("deleted", c.Args.ThreadID)
	return nil
}

// WatchCmd prints progress events until interrupted or disconnected. The
// stream is not reopened after a disconnect.
type WatchCmd struct {
	Args struct {
		Key string `positional-arg-name:"key" required:"yes"`
	} `positional-args:"yes"`
}

func (c *WatchCmd) Execute(_ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	unsub, err := a.client.SubscribeProgress(ctx, c.Args.Key, printEvent)
	if err != nil {
		return err
	}
	defer unsub()

	adapter := a.client.Progress()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if adapter.State(c.Args.Key) == progress.StateDisconnected {
				if err := adapter.Err(c.Args.Key); err != nil {
					return fmt.Errorf("stream disconnected: %w", err)
				}
				fmt.Println("stream ended")
				return nil
			}
		}
	}
}

// HistoryCmd prints journal entries.
type HistoryCmd struct {
	Session bool `long:"session" description:"treat the key as a local session id"`
	Args    struct {
		Key string `positional-arg-name:"key" required:"yes"`
	} `positional-args:"yes"`
}

func (c *HistoryCmd) Execute(_ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if c.Session {
		entries, err := a.journal.SessionHistory(ctx, c.Args.Key)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "AT\tEVENT\tTHREAD\tDETAIL")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.At.Local().Format(time.DateTime), e.Event, e.ThreadID, e.Detail)
		}
		return tw.Flush()
	}

	entries, err := a.journal.JobHistory(ctx, c.Args.Key)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "AT\tEVENT\tJOB\tSTATUS\tRETRIES\tPOLLS\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			e.At.Local().Format(time.DateTime), e.Event, e.JobID, e.Status, e.RetryCount, e.Polls, e.ErrorKind)
	}
	return tw.Flush()
}
