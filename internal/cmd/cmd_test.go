package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/peterje/rootrepl/internal/config"
	"github.com/peterje/rootrepl/internal/repl"
)

func TestReadCode(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		stdin string
		want  string
	}{
		{"args joined", []string{"cout", "<<", "1;"}, "ignored", "cout << 1;"},
		{"stdin when no args", nil, "int x = 1;\nx\n", "int x = 1;\nx\n"},
		{"dash reads stdin", []string{"-"}, "gROOT->ls()", "gROOT->ls()"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readCode(strings.NewReader(tt.stdin), tt.args)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("readCode = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionName(t *testing.T) {
	old := sessionFlag
	defer func() { sessionFlag = old }()
	sessionFlag = "fromflag"

	if got := sessionName(nil); got != "fromflag" {
		t.Errorf("sessionName(nil) = %q", got)
	}
	if got := sessionName([]string{"ana"}); got != "ana" {
		t.Errorf("sessionName(ana) = %q", got)
	}
}

func TestReplOptions(t *testing.T) {
	cfg := config.Default()
	cfg.WorkDir = "/data"
	cfg.Capture.Mode = config.CapturePrompt
	cfg.Capture.Timeout = config.Duration{Duration: 2 * time.Second}

	opts := replOptions(cfg)
	if opts.Start.Executable != "root" || opts.Start.WorkDir != "/data" || len(opts.Start.Args) != 1 {
		t.Errorf("Start = %+v", opts.Start)
	}
	if opts.Capture.Mode != repl.CapturePrompt || opts.Capture.Timeout != 2*time.Second {
		t.Errorf("Capture = %+v", opts.Capture)
	}
	if !opts.Rootrc.Enabled || opts.Rootrc.Hold != 5*time.Second {
		t.Errorf("Rootrc = %+v", opts.Rootrc)
	}
}

func TestPrintOutput(t *testing.T) {
	var buf bytes.Buffer
	evalBoxed = false
	printOutput(&buf, "(int) 2\n")
	if buf.String() != "(int) 2\n" {
		t.Errorf("plain output = %q", buf.String())
	}

	buf.Reset()
	evalBoxed = true
	defer func() { evalBoxed = false }()
	printOutput(&buf, "(int) 2\n")
	if !strings.Contains(buf.String(), "(int) 2") || strings.Count(buf.String(), "\n") < 3 {
		t.Errorf("boxed output = %q", buf.String())
	}
}

func TestCommandTree(t *testing.T) {
	want := []string{"start", "stop", "quit", "list", "attach", "send", "eval", "output",
		"source", "load", "cd", "prompt", "history", "serve", "shepherd"}
	for _, name := range want {
		c, _, err := rootCmd.Find([]string{name})
		if err != nil || c.Name() != name {
			t.Errorf("command %q not registered (got %v, %v)", name, c, err)
		}
	}
}
