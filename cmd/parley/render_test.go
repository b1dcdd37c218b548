package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/model/persona"
	"github.com/zhouzirui/z-parley/backend/internal/service/driver"
	"github.com/zhouzirui/z-parley/backend/pkg/client"
)

func init() {
	color.NoColor = true
}

func snapshot(status conversation.Status, turn int, next int64, contents ...string) conversation.Snapshot {
	conv := &conversation.Conversation{ID: 7, Status: status, MaxTurns: 4, CurrentTurn: turn, CurrentSpeakerID: &next}
	snap := conversation.Snapshot{
		Conversation: conv,
		Personas: []persona.Persona{
			{ID: 1, Name: "Ana"},
			{ID: 2, Name: "Ben"},
		},
	}
	for i, content := range contents {
		snap.Messages = append(snap.Messages, conversation.Message{ID: int64(i + 1), PersonaID: int64(i%2 + 1), Content: content})
	}
	return snap
}

func TestTranscriptPrintsOnlyNewMessages(t *testing.T) {
	var buf bytes.Buffer
	tr := newTranscript(&buf)

	tr.Render(snapshot(conversation.StatusActive, 1, 2, "opening offer"))
	tr.Render(snapshot(conversation.StatusActive, 2, 1, "opening offer", "counter offer"))
	tr.Render(snapshot(conversation.StatusActive, 2, 1, "opening offer", "counter offer"))

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Conversation #7"))
	assert.Equal(t, 1, strings.Count(out, "[Ana] opening offer"))
	assert.Equal(t, 1, strings.Count(out, "[Ben] counter offer"))
	assert.Contains(t, out, "turn 1/4, Ben speaks next")
}

func TestTranscriptReportsCompletion(t *testing.T) {
	var buf bytes.Buffer
	tr := newTranscript(&buf)

	tr.Render(snapshot(conversation.StatusActive, 0, 1))
	tr.Render(snapshot(conversation.StatusCompleted, 1, 1, "deal"))

	assert.Contains(t, buf.String(), "✓ completed (turn 1/4)")
}

func TestTranscriptEmptySnapshotPrintedOnce(t *testing.T) {
	var buf bytes.Buffer
	tr := newTranscript(&buf)

	tr.Render(conversation.Snapshot{})
	tr.Render(conversation.Snapshot{})
	assert.Equal(t, 1, strings.Count(buf.String(), "No active conversation"))

	tr.Render(snapshot(conversation.StatusActive, 0, 1))
	tr.Render(conversation.Snapshot{})
	assert.Equal(t, 2, strings.Count(buf.String(), "No active conversation"))
}

func TestPrintNotification(t *testing.T) {
	var buf bytes.Buffer
	printNotification(&buf, driver.Notification{Level: driver.LevelError, Title: "Failed at turn 2", Message: "boom"})
	assert.Equal(t, "✗ Failed at turn 2: boom\n", buf.String())
}

func TestDescribe(t *testing.T) {
	plain := errors.New("dial tcp: refused")
	assert.Same(t, plain, describe(plain))

	running := describe(&client.APIError{Status: 409, Code: "already_running", Message: "busy"})
	assert.Contains(t, running.Error(), "in progress on the server")

	invalid := describe(&client.APIError{Status: 400, Message: "validation failed", Fields: map[string]string{"maxTurns": "must be between 1 and 100"}})
	require.Error(t, invalid)
	assert.Contains(t, invalid.Error(), "maxTurns must be between 1 and 100")
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"personas", "models", "start", "show", "next", "run", "watch", "clear"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	flag := root.PersistentFlags().Lookup("server")
	require.NotNil(t, flag)
}

func TestDescribeOrdersFields(t *testing.T) {
	err := describe(&client.APIError{Status: 400, Message: "validation failed", Fields: map[string]string{
		"maxTurns":         "must be between 1 and 100",
		"currentSpeakerId": "is required",
		"systemPrompt":     "is too long",
	}})
	want := "validation failed\n  currentSpeakerId is required\n  maxTurns must be between 1 and 100\n  systemPrompt is too long"
	for i := 0; i < 20; i++ {
		assert.Equal(t, want, err.Error())
		err = describe(&client.APIError{Status: 400, Message: "validation failed", Fields: map[string]string{
			"systemPrompt":     "is too long",
			"maxTurns":         "must be between 1 and 100",
			"currentSpeakerId": "is required",
		}})
	}
}

func TestUnseenNotificationsIgnoresClocks(t *testing.T) {
	now := time.Now()
	before := []driver.Notification{
		{ID: "old-1", Title: "Conversation complete", At: now.Add(time.Hour)},
	}
	after := []driver.Notification{
		before[0],
		{ID: "new-1", Title: "Failed at turn 3", At: now.Add(-time.Hour)},
		{ID: "new-2", Title: "Conversation complete", At: now.Add(-time.Hour)},
	}

	got := unseenNotifications(notificationIDs(before), after)
	require.Len(t, got, 2)
	assert.Equal(t, "new-1", got[0].ID)
	assert.Equal(t, "new-2", got[1].ID)

	assert.Len(t, unseenNotifications(notificationIDs(nil), after), 3)
}
