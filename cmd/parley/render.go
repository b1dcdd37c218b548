package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/service/driver"
)

var palette = []color.Attribute{color.FgCyan, color.FgMagenta, color.FgGreen, color.FgBlue, color.FgYellow}

func personaColor(i int) *color.Color {
	return color.New(palette[i%len(palette)], color.Bold)
}

// transcript prints a conversation incrementally. It remembers how many
// messages of the current conversation it has already written.
type transcript struct {
	out            io.Writer
	conversationID int64
	printed        int
	status         conversation.Status
	idle           bool
}

func newTranscript(out io.Writer) *transcript {
	return &transcript{out: out}
}

// Render writes whatever is new in snap since the previous call.
func (t *transcript) Render(snap conversation.Snapshot) {
	if snap.Empty() {
		if !t.idle {
			fmt.Fprintln(t.out, color.YellowString("⚠")+" No active conversation.")
		}
		t.idle = true
		t.conversationID, t.printed, t.status = 0, 0, ""
		return
	}
	t.idle = false

	conv := snap.Conversation
	if conv.ID != t.conversationID {
		t.conversationID, t.printed, t.status = conv.ID, 0, ""
		fmt.Fprintln(t.out, color.New(color.Bold).Sprintf("Conversation #%d", conv.ID)+
			fmt.Sprintf("  (max %d turns)", conv.MaxTurns))
	}

	for _, msg := range snap.Messages[min(t.printed, len(snap.Messages)):] {
		t.renderMessage(snap, msg)
	}
	t.printed = len(snap.Messages)

	if conv.Status != t.status {
		t.status = conv.Status
		fmt.Fprintln(t.out, statusLine(snap))
	}
}

func (t *transcript) renderMessage(snap conversation.Snapshot, msg conversation.Message) {
	name := fmt.Sprintf("persona %d", msg.PersonaID)
	c := color.New(color.Bold)
	for i, p := range snap.Personas {
		if p.ID == msg.PersonaID {
			name = p.Name
			c = personaColor(i)
			break
		}
	}
	fmt.Fprintf(t.out, "%s %s\n", c.Sprintf("[%s]", name), msg.Content)
}

func statusLine(snap conversation.Snapshot) string {
	conv := snap.Conversation
	progress := fmt.Sprintf("turn %d/%d", conv.CurrentTurn, conv.MaxTurns)
	if !conv.Active() {
		return color.GreenString("✓") + fmt.Sprintf(" %s (%s)", conv.Status, progress)
	}
	next := "unset"
	if conv.CurrentSpeakerID != nil {
		next = fmt.Sprintf("persona %d", *conv.CurrentSpeakerID)
		if p, ok := snap.Persona(*conv.CurrentSpeakerID); ok {
			next = p.Name
		}
	}
	return color.CyanString("→") + fmt.Sprintf(" %s, %s speaks next", progress, next)
}

func printNotification(out io.Writer, n driver.Notification) {
	mark := color.CyanString("•")
	switch n.Level {
	case driver.LevelSuccess:
		mark = color.GreenString("✓")
	case driver.LevelError:
		mark = color.RedString("✗")
	}
	fmt.Fprintf(out, "%s %s: %s\n", mark, color.New(color.Bold).Sprint(n.Title), n.Message)
}
