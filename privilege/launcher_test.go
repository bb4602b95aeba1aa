package privilege

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/pikaos-linux/pikman-update-manager/common"
)

func newTestLauncher(escalator string) *Launcher {
	l := NewLauncher(escalator, "/bin/sh")
	l.SetLogger(common.NopLogger{})
	return l
}

// run starts the helper and waits for its Result. A launch error is
// reported the way the updater reports it.
func run(t *testing.T, l *Launcher, args ...string) Result {
	t.Helper()
	results, err := l.Start(context.Background(), args...)
	if err != nil {
		return Result{Code: -1, Err: err}
	}
	select {
	case r := <-results:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("helper did not finish")
		return Result{}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		result Result
		want   Class
	}{
		{Result{Code: 0}, ClassSuccess},
		{Result{Code: 53}, ClassHandled},
		{Result{Code: 126}, ClassUnauthorized},
		{Result{Code: 127}, ClassUnauthorized},
		{Result{Code: 1}, ClassFailure},
		{Result{Code: -1}, ClassFailure},
		{Result{Code: -1, Err: errors.New("exec format error")}, ClassLaunchError},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			if got := Classify(tt.result); got != tt.want {
				t.Errorf("Classify(%+v) = %v, want %v", tt.result, got, tt.want)
			}
		})
	}
}

func TestLauncher_Command(t *testing.T) {
	l := NewLauncher("pkexec", "/usr/lib/pika/helper")

	name, argv := l.Command("update", "--percent-socket", "/tmp/x")
	if name != "pkexec" {
		t.Errorf("name = %s, want pkexec", name)
	}
	want := []string{"/usr/lib/pika/helper", "update", "--percent-socket", "/tmp/x"}
	if !reflect.DeepEqual(argv, want) {
		t.Errorf("argv = %v, want %v", argv, want)
	}

	l.Escalator = ""
	name, argv = l.Command("update")
	if name != "/usr/lib/pika/helper" || !reflect.DeepEqual(argv, []string{"update"}) {
		t.Errorf("direct command = %s %v", name, argv)
	}
}

func TestLauncher_RunExitCodes(t *testing.T) {
	tests := []struct {
		script string
		code   int
	}{
		{"exit 0", 0},
		{"exit 53", 53},
		{"echo progress; echo oops >&2; exit 2", 2},
		// One line far beyond the line limit, then enough output to
		// fill the pipe if nobody reads it.
		{"head -c 2000000 /dev/zero | tr '\\0' x; echo; head -c 200000 /dev/zero; exit 7", 7},
		{"head -c 300000 /dev/zero | tr '\\0' y >&2; exit 0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			r := run(t, newTestLauncher(""), "-c", tt.script)
			if r.Err != nil {
				t.Fatalf("Err = %v", r.Err)
			}
			if r.Code != tt.code {
				t.Errorf("Code = %d, want %d", r.Code, tt.code)
			}
		})
	}
}

func TestLauncher_ThroughEscalator(t *testing.T) {
	// env stands in for pkexec: it execs its first argument.
	r := run(t, newTestLauncher("env"), "-c", "exit 53")
	if r.Err != nil {
		t.Fatalf("Err = %v", r.Err)
	}
	if Classify(r) != ClassHandled {
		t.Errorf("Classify = %v, want handled", Classify(r))
	}
}

func TestLauncher_StartYieldsOneResult(t *testing.T) {
	results, err := newTestLauncher("").Start(context.Background(), "-c", "exit 0")
	if err != nil {
		t.Fatal(err)
	}
	if r := <-results; r.Code != 0 {
		t.Errorf("Code = %d", r.Code)
	}
	if _, ok := <-results; ok {
		t.Error("results should be closed after the single Result")
	}
}

func TestLauncher_MissingHelper(t *testing.T) {
	l := NewLauncher("", "/nonexistent/pikman-apt-helper")
	l.SetLogger(common.NopLogger{})

	r := run(t, l, "update")
	if !errors.Is(r.Err, common.ErrHelperNotFound) {
		t.Errorf("Err = %v, want ErrHelperNotFound", r.Err)
	}
	if Classify(r) != ClassLaunchError {
		t.Errorf("Classify = %v, want launch-error", Classify(r))
	}
}

func TestLauncher_MissingEscalator(t *testing.T) {
	r := run(t, newTestLauncher("definitely-not-a-launcher"), "-c", "exit 0")
	if r.Err == nil {
		t.Error("launch should fail when the escalator is not installed")
	}
}

func TestLauncher_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newTestLauncher("").Start(ctx, "-c", "exit 0"); !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want context.Canceled", err)
	}
}
