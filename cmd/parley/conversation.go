package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/service/driver"
	"github.com/zhouzirui/z-parley/backend/pkg/client"
)

var errNoConversation = errors.New("no active conversation, start one with `parley start`")

// newStartCmd creates the `start` command.
func newStartCmd(a *app) *cobra.Command {
	var (
		speaker  int64
		maxTurns int
		prompt   string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new conversation",
		Long: `Starts a new conversation between every configured persona.

The first speaker defaults to the persona with the lowest id. The system prompt
defaults to the server's negotiation prompt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if speaker == 0 {
				personas, err := a.client.ListPersonas(ctx)
				if err != nil {
					return err
				}
				if len(personas) == 0 {
					return errors.New("no personas configured")
				}
				speaker = personas[0].ID
			}

			in := conversation.CreateInput{CurrentSpeakerID: &speaker, MaxTurns: maxTurns}
			if prompt != "" {
				in.SystemPrompt = &prompt
			}
			conv, err := a.client.CreateConversation(ctx, in)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(a.out, "%s Started conversation #%d (%d turns)\n", color.GreenString("✓"), conv.ID, conv.MaxTurns)
			return nil
		},
	}

	cmd.Flags().Int64Var(&speaker, "speaker", 0, "Persona id that speaks first")
	cmd.Flags().IntVar(&maxTurns, "max-turns", conversation.DefaultMaxTurns, "Turn cap, between 1 and 100")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Override the system prompt")
	return cmd
}

// newShowCmd creates the `show` command.
func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [conversation-id]",
		Short: "Print the current conversation, or one by id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				snap conversation.Snapshot
				err  error
			)
			if len(args) == 1 {
				var id int64
				if _, scanErr := fmt.Sscan(args[0], &id); scanErr != nil || id <= 0 {
					return fmt.Errorf("invalid conversation id %q", args[0])
				}
				snap, err = a.client.Lookup(cmd.Context(), id)
			} else {
				snap, err = a.client.Snapshot(cmd.Context())
			}
			if err != nil {
				return describe(err)
			}
			newTranscript(a.out).Render(snap)
			return nil
		},
	}
}

// newNextCmd creates the `next` command.
func newNextCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Advance the current conversation by one turn",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			snap, err := a.client.Snapshot(ctx)
			if err != nil {
				return err
			}
			if snap.Empty() {
				return errNoConversation
			}

			tr := newTranscript(a.out)
			tr.conversationID, tr.printed, tr.status = snap.Conversation.ID, len(snap.Messages), snap.Conversation.Status

			if _, err := a.client.AdvanceTurn(ctx, snap.Conversation.ID); err != nil {
				fmt.Fprintf(a.out, "%s %s\n", color.RedString("✗"), driver.FailureMessage(err))
				return err
			}
			after, err := a.client.Lookup(ctx, snap.Conversation.ID)
			if err != nil {
				return err
			}
			tr.Render(after)
			return nil
		},
	}
}

// newRunCmd creates the `run` command.
func newRunCmd(a *app) *cobra.Command {
	var (
		turns  int
		delay  time.Duration
		remote bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run several turns of the current conversation",
		Long: `Runs up to --turns turns, pausing --delay between them, and stops early when
the conversation completes or a turn fails.

By default the loop runs in this process and calls the server once per turn.
With --remote the server runs the loop and this command only follows along.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if turns < 1 || turns > conversation.MaxTurnsLimit {
				return fmt.Errorf("--turns must be between 1 and %d", conversation.MaxTurnsLimit)
			}
			if remote {
				return a.runRemote(cmd.Context(), turns)
			}
			return a.runLocal(cmd.Context(), turns, delay)
		},
	}

	cmd.Flags().IntVarP(&turns, "turns", "n", 10, "Maximum number of turns to run")
	cmd.Flags().DurationVar(&delay, "delay", driver.DefaultTurnDelay, "Pause between turns (local runs only)")
	cmd.Flags().BoolVar(&remote, "remote", false, "Let the server drive the run")
	return cmd
}

// echoAdvancer prints each conversation as its turns land.
type echoAdvancer struct {
	client     *client.Client
	transcript *transcript
}

func (e *echoAdvancer) AdvanceTurn(ctx context.Context, conversationID int64) (conversation.Message, error) {
	msg, err := e.client.AdvanceTurn(ctx, conversationID)
	if err != nil {
		return msg, err
	}
	if snap, lookupErr := e.client.Lookup(ctx, conversationID); lookupErr == nil {
		e.transcript.Render(snap)
	}
	return msg, nil
}

func (a *app) runLocal(ctx context.Context, turns int, delay time.Duration) error {
	tr := newTranscript(a.out)
	snap, err := a.client.Snapshot(ctx)
	if err != nil {
		return err
	}
	tr.Render(snap)

	notifier := driver.NotifierFunc(func(n driver.Notification) { printNotification(a.out, n) })
	d := driver.New(&echoAdvancer{client: a.client, transcript: tr}, a.client, notifier, driver.Config{
		TurnDelay: delay,
		Logger:    a.logger,
	})

	res, err := d.RunTurns(ctx, turns)
	a.logger.Debug("run finished", zap.String("reason", string(res.Reason)), zap.Int("turns", res.Turns))
	fmt.Fprintf(a.out, "%s\n", color.New(color.Faint).Sprintf("%d turn(s), stopped: %s", res.Turns, res.Reason))
	if res.Reason == driver.StopCanceled {
		return nil
	}
	return err
}

func (a *app) runRemote(ctx context.Context, turns int) error {
	before, err := a.client.DriverStatus(ctx)
	if err != nil {
		return err
	}
	seen := notificationIDs(before.Notifications)

	if err := a.client.StartRun(ctx, turns); err != nil {
		return describe(err)
	}
	fmt.Fprintf(a.out, "%s Server is running up to %d turn(s)\n", color.CyanString("→"), turns)

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.stopWhenIdle(watchCtx, cancel)

	tr := newTranscript(a.out)
	cache := driver.NewSnapshotCache(a.client.Snapshot, driver.DefaultCacheTTL)
	err = cache.Watch(watchCtx, 500*time.Millisecond, tr.Render, func(err error) {
		a.logger.Warn("poll failed", zap.Error(err))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}

	status, err := a.client.DriverStatus(ctx)
	if err != nil {
		return err
	}
	for _, n := range unseenNotifications(seen, status.Notifications) {
		printNotification(a.out, n)
	}
	return nil
}

// stopWhenIdle calls stop once the server reports the run has ended, after
// a short grace period so the watcher can render the final turn.
func (a *app) stopWhenIdle(ctx context.Context, stop context.CancelFunc) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		status, err := a.client.DriverStatus(ctx)
		if err != nil || status.Running {
			continue
		}
		grace := time.NewTimer(500 * time.Millisecond)
		select {
		case <-ctx.Done():
			grace.Stop()
		case <-grace.C:
			stop()
		}
		return
	}
}

func notificationIDs(items []driver.Notification) map[string]struct{} {
	ids := make(map[string]struct{}, len(items))
	for _, n := range items {
		ids[n.ID] = struct{}{}
	}
	return ids
}

// unseenNotifications keeps the items whose ids are not in seen, in order.
func unseenNotifications(seen map[string]struct{}, items []driver.Notification) []driver.Notification {
	var out []driver.Notification
	for _, n := range items {
		if _, ok := seen[n.ID]; !ok {
			out = append(out, n)
		}
	}
	return out
}

// newWatchCmd creates the `watch` command.
func newWatchCmd(a *app) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the current conversation until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr := newTranscript(a.out)
			cache := driver.NewSnapshotCache(a.client.Snapshot, interval)
			err := cache.Watch(cmd.Context(), interval, tr.Render, func(err error) {
				fmt.Fprintf(a.out, "%s %v\n", color.RedString("✗"), err)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")
	return cmd
}

// newClearCmd creates the `clear` command.
func newClearCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every conversation and message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear without --yes")
			}
			if err := a.client.ClearConversations(cmd.Context()); err != nil {
				return describe(err)
			}
			fmt.Fprintln(a.out, color.GreenString("✓")+" Cleared all conversations")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the deletion")
	return cmd
}

// describe turns API errors into a message worth showing on a terminal.
func describe(err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if errors.Is(err, driver.ErrAlreadyRunning) {
		return errors.New("a multi-turn run is in progress on the server, try again when it finishes")
	}
	if len(apiErr.Fields) == 0 {
		return err
	}
	fields := make([]string, 0, len(apiErr.Fields))
	for field := range apiErr.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	msg := apiErr.Message
	for _, field := range fields {
		msg += fmt.Sprintf("\n  %s %s", field, apiErr.Fields[field])
	}
	return errors.New(msg)
}
