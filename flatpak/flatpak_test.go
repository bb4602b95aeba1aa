package flatpak

import (
	"bufio"
	"context"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/pikaos-linux/pikman-update-manager/common"
)

func TestParseUpdates(t *testing.T) {
	input := "app/org.mozilla.firefox/x86_64/stable\tFirefox\t120.0\tflathub\t95.2 MB\n" +
		"runtime/org.freedesktop.Platform.GL.default/x86_64/23.08\t\t\tflathub\t140 MB\n" +
		"garbage line\n" +
		"\n"

	got, err := ParseUpdates(strings.NewReader(input), System)
	if err != nil {
		t.Fatal(err)
	}
	want := []Ref{
		{Ref: "app/org.mozilla.firefox/x86_64/stable", Name: "Firefox", Version: "120.0", Remote: "flathub", DownloadSize: "95.2 MB", Installation: System},
		{Ref: "runtime/org.freedesktop.Platform.GL.default/x86_64/23.08", Name: "org.freedesktop.Platform.GL.default", Remote: "flathub", DownloadSize: "140 MB", Installation: System},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseUpdates() = %+v\nwant %+v", got, want)
	}
}

func TestRef_Parts(t *testing.T) {
	r := Ref{Ref: "app/org.mozilla.firefox/x86_64/stable"}
	if r.Kind() != "app" || r.ID() != "org.mozilla.firefox" || r.Arch() != "x86_64" || r.Branch() != "stable" {
		t.Errorf("parts = %s %s %s %s", r.Kind(), r.ID(), r.Arch(), r.Branch())
	}
	if (Ref{Ref: "broken"}).Branch() != "" {
		t.Error("missing parts should be empty")
	}
}

func TestProgress_Parse(t *testing.T) {
	p := &Progress{}
	steps := []struct {
		line       string
		wantOK     bool
		wantPct    float64
		wantStatus string
	}{
		{"Looking for updates…", false, 0, ""},
		{"Updating app/org.mozilla.firefox/x86_64/stable", false, 0, ""},
		{"Updating 1/2… ████▌               50%  1.2 MB/s  00:10", true, 25, "Updating 1 of 2: app/org.mozilla.firefox/x86_64/stable"},
		{"Updating 1/2… ██████████████████ 100%  1.2 MB/s  00:00", true, 50, ""},
		{"Updating 2/2… ██                  10%", true, 55, "Updating 2 of 2: app/org.mozilla.firefox/x86_64/stable"},
		{"Updating 2/2… █                    0%", true, 55, ""},
		{"Updating 3/2…", false, 55, ""},
		{"Updates complete.", false, 55, ""},
	}
	for _, s := range steps {
		pct, status, ok := p.Parse(s.line)
		if ok != s.wantOK || math.Abs(pct-s.wantPct) > 1e-9 || status != s.wantStatus {
			t.Errorf("Parse(%q) = (%v, %q, %v), want (%v, %q, %v)", s.line, pct, status, ok, s.wantPct, s.wantStatus, s.wantOK)
		}
	}
}

func TestScanProgressLines(t *testing.T) {
	sc := bufio.NewScanner(strings.NewReader("a\rb\nc\r\nd"))
	sc.Split(ScanProgressLines)
	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	want := []string{"a", "b", "c", "", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tokens = %q, want %q", got, want)
	}
}

type recorder struct {
	mu       sync.Mutex
	percents []float64
	statuses []string
}

func (r *recorder) Percent(p float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.percents = append(r.percents, p)
	return nil
}

func (r *recorder) Status(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, text)
	return nil
}

func fakeFlatpak(t *testing.T, body string) *Client {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flatpak")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	c := NewClient(common.NopLogger{})
	c.Binary = path
	return c
}

func TestClient_ListUpdates(t *testing.T) {
	c := fakeFlatpak(t, `
case "$3" in
  --system) printf 'app/org.gnome.Maps/x86_64/stable\tMaps\t45.1\tflathub\t3 MB\n' ;;
  --user) echo "error: No user installation" >&2; exit 1 ;;
esac`)

	refs, err := c.ListUpdates(context.Background())
	if err != nil {
		t.Fatalf("ListUpdates() error = %v", err)
	}
	if len(refs) != 1 || refs[0].Name != "Maps" || refs[0].Installation != System {
		t.Errorf("ListUpdates() = %+v", refs)
	}
}

func TestClient_Update(t *testing.T) {
	dir := t.TempDir()
	argsLog := filepath.Join(dir, "args")
	t.Setenv("ARGS_LOG", argsLog)

	c := fakeFlatpak(t, `
echo "$@" >> "$ARGS_LOG"
echo "Updating app/org.gnome.Maps/x86_64/stable"
printf 'Updating 1/1… ██  50%%\rUpdating 1/1… ████ 100%%\n'`)

	rec := &recorder{}
	refs := []Ref{{Ref: "app/org.gnome.Maps/x86_64/stable", Installation: User}}
	if err := c.Update(context.Background(), refs, rec); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	data, err := os.ReadFile(argsLog)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(data)); got != "update --noninteractive -y --user app/org.gnome.Maps/x86_64/stable" {
		t.Errorf("args = %q", got)
	}
	if !reflect.DeepEqual(rec.percents, []float64{50, 100, 100}) {
		t.Errorf("percents = %v", rec.percents)
	}
	if len(rec.statuses) != 1 || !strings.Contains(rec.statuses[0], "org.gnome.Maps") {
		t.Errorf("statuses = %v", rec.statuses)
	}
}

func TestClient_UpdateFailure(t *testing.T) {
	c := fakeFlatpak(t, `
echo "error: Unable to connect to flathub" >&2
exit 1`)

	err := c.Update(context.Background(), []Ref{{Ref: "app/x/x86_64/stable"}}, nil)
	if err == nil || !strings.Contains(err.Error(), "Unable to connect") {
		t.Errorf("Update() error = %v", err)
	}
}
