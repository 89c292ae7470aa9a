package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/gptreplay/internal/editor"
	"github.com/zulandar/gptreplay/internal/playback"
	"github.com/zulandar/gptreplay/internal/timeline"
)

const csvBody = `essay_num,op_loc,op_type,time,selected_text,recording_obj,current_editor
1,editor,input,0,,"{'t': 0, 'o': [{'a': [0, 0], 'i': ['Dear reader']}]}",
1,gpt,gpt_inquiry,2,How do I start?,,
1,gpt,gpt_response,5,Start with a hook.,,
1,editor,paste,6,Start with a hook.,"{'t': 6000, 'o': [{'a': [0, 11], 'i': [' Start with a hook.']}]}",
1,gpt,gpt_inquiry,9,Thanks,,
`

// writeConfig writes a sqlite config and the session CSV into a temp dir
// and returns the config path.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "replay_data.csv")
	if err := os.WriteFile(csvPath, []byte(csvBody), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := fmt.Sprintf("data:\n  csv: %s\ndatabase:\n  driver: sqlite\n  path: %s\n",
		csvPath, filepath.Join(dir, "gptreplay.db"))
	path := filepath.Join(dir, "gptreplay.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// run executes the root command with args and returns its output.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, "", args...)
	if err != nil {
		t.Fatalf("%v failed: %v\n%s", args, err, out)
	}
	return out
}

func assertContains(t *testing.T, out string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDBInitCmd(t *testing.T) {
	cfg := writeConfig(t)
	out := mustRun(t, "db", "init", "-c", cfg)
	assertContains(t, out, "Connected to sqlite database", "Migrated 5 tables")
}

func TestDBInitCmd_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("database:\n  driver: postgres\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "", "db", "init", "-c", path); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestDBResetCmd(t *testing.T) {
	cfg := writeConfig(t)
	mustRun(t, "ingest", "-c", cfg)

	out, err := run(t, "no\n", "db", "reset", "-c", cfg)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	assertContains(t, out, "Aborted.")
	assertContains(t, mustRun(t, "list", "-c", cfg), "p1")

	out = mustRun(t, "db", "reset", "-c", cfg, "--yes")
	assertContains(t, out, "Reset 5 tables")
	assertContains(t, mustRun(t, "list", "-c", cfg), "No participants imported.")
}

func TestIngestCmd(t *testing.T) {
	cfg := writeConfig(t)
	out := mustRun(t, "ingest", "-c", cfg)
	assertContains(t, out, ": ok", "Participants: 1", "Rows:         5 (0 skipped)")
}

func TestIngestCmd_MissingCSV(t *testing.T) {
	cfg := writeConfig(t)
	out, err := run(t, "", "ingest", "-c", cfg, "--csv", filepath.Join(t.TempDir(), "missing.csv"))
	if err == nil {
		t.Fatal("expected error for missing csv")
	}
	assertContains(t, out, ": failed")
}

func TestListCmd(t *testing.T) {
	cfg := writeConfig(t)
	assertContains(t, mustRun(t, "list", "-c", cfg), "No participants imported.")
	assertContains(t, mustRun(t, "list", "-c", cfg, "--runs"), "No ingest runs recorded.")

	mustRun(t, "ingest", "-c", cfg)
	assertContains(t, mustRun(t, "list", "-c", cfg), "KEY", "p1", "Participant 2", "0:06")
	assertContains(t, mustRun(t, "list", "-c", cfg, "--runs"), "TRIGGER", "manual", "ok")
}

func TestPlayCmd(t *testing.T) {
	cfg := writeConfig(t)
	mustRun(t, "ingest", "-c", cfg)

	out := mustRun(t, "play", "p1", "-c", cfg, "--speed", "100")
	assertContains(t, out,
		"Participant 2",
		"0:06 total, 3 messages, 100x",
		"How do I start?",
		"Start with a hook.",
		"Dear reader Start with a hook.",
		"Stopped at 0:06, 2 of 3 messages shown",
	)
	if strings.Contains(out, "Thanks") {
		t.Error("message past the end of the log was shown")
	}
	if strings.Index(out, "How do I start?") > strings.Index(out, "assistant:") {
		t.Error("messages out of order")
	}
}

func TestPlayCmd_FromEnd(t *testing.T) {
	cfg := writeConfig(t)
	mustRun(t, "ingest", "-c", cfg)

	out := mustRun(t, "play", "1", "-c", cfg, "--from", "100")
	assertContains(t, out, "Stopped at 0:06")
}

func TestFollow_StopsWhenStatusUpdateIsLost(t *testing.T) {
	log := editor.Log{
		{Time: editor.Span{Start: 0, End: 0}, Changes: []editor.Change{{Text: "a"}}},
		{Time: editor.Span{Start: 1000, End: 1000}, Changes: []editor.Change{{Text: "b"}}},
	}
	player, err := editor.NewPlayer(log, editor.PlayerOpts{Speed: 100})
	if err != nil {
		t.Fatalf("NewPlayer: %v", err)
	}
	tl, err := timeline.New([]timeline.Event{
		{ID: 0, Role: timeline.RoleUser, Content: "first question", Timestamp: 0.1},
		{ID: 1, Role: timeline.RoleAssistant, Content: "first answer", Timestamp: 0.5},
	})
	if err != nil {
		t.Fatalf("timeline.New: %v", err)
	}
	ps, err := playback.NewSession(playback.Config{
		ID:       "p1",
		Engine:   player,
		Timeline: tl,
		Options:  playback.Options{DefaultSpeed: 100},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer ps.Close()
	ps.Start()
	if err := ps.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	buf := new(bytes.Buffer)
	// Nothing is ever delivered on this channel.
	follow(ctx, ps, make(chan playback.Update), newPrinter(buf, true))
	if ctx.Err() != nil {
		t.Fatal("follow did not return after playback ended")
	}
	assertContains(t, buf.String(), "first question", "first answer")
}

func TestPlayCmd_Errors(t *testing.T) {
	cfg := writeConfig(t)
	mustRun(t, "ingest", "-c", cfg)

	tests := []struct {
		name string
		args []string
	}{
		{"unsupported speed", []string{"play", "p1", "-c", cfg, "--speed", "7"}},
		{"unknown participant", []string{"play", "p9", "-c", cfg}},
		{"bad selector", []string{"play", "abc", "-c", cfg}},
		{"missing argument", []string{"play", "-c", cfg}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, "", tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestServeCmd_Help(t *testing.T) {
	out := mustRun(t, "serve", "--help")
	assertContains(t, out, "web viewer", "--port", "gptreplay.yaml")
}
