package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"strings"
	"testing"

	"github.com/pikaos-linux/pikman-update-manager/apt"
	"github.com/pikaos-linux/pikman-update-manager/common"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"update", []string{"update", "--percent-socket", "/run/p.sock", "--status-socket", "/run/s.sock"}, false},
		{"full-upgrade", []string{"full-upgrade", "--percent-socket", "p", "--status-socket", "s", "--exclusions", "/tmp/x.json"}, false},
		{"missing command", nil, true},
		{"unknown command", []string{"dist-upgrade"}, true},
		{"missing sockets", []string{"update"}, true},
		{"extra args", []string{"update", "--percent-socket", "p", "--status-socket", "s", "vim"}, true},
		{"bad buffer", []string{"update", "--percent-socket", "p", "--status-socket", "s", "--buffer-size", "0"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArgs(tt.args, &bytes.Buffer{})
			if (err != nil) != tt.wantErr {
				t.Errorf("parseArgs(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
		})
	}
}

func TestParseArgs_Defaults(t *testing.T) {
	opts, err := parseArgs([]string{"full-upgrade", "--percent-socket", "p", "--status-socket", "s"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if opts.exclusions != "" {
		t.Errorf("exclusions = %q", opts.exclusions)
	}
	if opts.bufferSize != common.DefaultReceiveBuffer {
		t.Errorf("bufferSize = %d", opts.bufferSize)
	}
	if opts.endpoints.Percent != "p" || opts.endpoints.Status != "s" {
		t.Errorf("endpoints = %+v", opts.endpoints)
	}
}

func TestParseArgs_Help(t *testing.T) {
	var out bytes.Buffer
	if _, err := parseArgs([]string{"--help"}, &out); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("error = %v, want flag.ErrHelp", err)
	}
	if !strings.Contains(out.String(), "full-upgrade") {
		t.Error("usage should list the commands")
	}
}

func TestRun_UsageExitCode(t *testing.T) {
	if code := run([]string{"bogus"}, &bytes.Buffer{}); code != exitUsage {
		t.Errorf("run() = %d, want %d", code, exitUsage)
	}
}

type fakeReporter struct {
	statuses  []string
	succeeded bool
	failed    bool
	failErr   error
}

func (f *fakeReporter) Percent(float64) error { return nil }

func (f *fakeReporter) Status(text string) error {
	f.statuses = append(f.statuses, text)
	return nil
}

func (f *fakeReporter) Succeeded() error {
	f.succeeded = true
	return nil
}

func (f *fakeReporter) Failed() error {
	f.failed = true
	return f.failErr
}

func TestExecute(t *testing.T) {
	ok := func(context.Context, *apt.Runner) error { return nil }
	fail := func(context.Context, *apt.Runner) error { return errors.New("E: Unable to locate package foo") }

	t.Run("success", func(t *testing.T) {
		rep := &fakeReporter{}
		if code := execute(context.Background(), ok, rep, 1024, common.NopLogger{}); code != common.ExitSuccess {
			t.Errorf("exit = %d, want 0", code)
		}
		if !rep.succeeded || rep.failed {
			t.Errorf("reporter = %+v, want only the success sentinel", rep)
		}
	})

	t.Run("failure is handled over the relay", func(t *testing.T) {
		rep := &fakeReporter{}
		if code := execute(context.Background(), fail, rep, 1024, common.NopLogger{}); code != common.ExitHandled {
			t.Errorf("exit = %d, want %d", code, common.ExitHandled)
		}
		if len(rep.statuses) != 1 || rep.statuses[0] != "E: Unable to locate package foo" {
			t.Errorf("statuses = %v", rep.statuses)
		}
		if !rep.failed {
			t.Error("failure sentinel should be sent")
		}
	})

	t.Run("reason is truncated to the buffer", func(t *testing.T) {
		rep := &fakeReporter{}
		execute(context.Background(), fail, rep, 8, common.NopLogger{})
		if rep.statuses[0] != "E: Unabl" {
			t.Errorf("status = %q", rep.statuses[0])
		}
	})

	t.Run("undelivered failure is not claimed as handled", func(t *testing.T) {
		rep := &fakeReporter{failErr: errors.New("connection refused")}
		if code := execute(context.Background(), fail, rep, 1024, common.NopLogger{}); code != exitRelay {
			t.Errorf("exit = %d, want %d", code, exitRelay)
		}
	})
}
