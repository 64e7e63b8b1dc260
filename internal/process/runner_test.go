package process

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestExecRunner_Run(t *testing.T) {
	tests := []struct {
		name       string
		cmd        Command
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "success with output",
			cmd:        Command{Name: "sh", Args: []string{"-c", "echo hello"}},
			wantCode:   0,
			wantStdout: "hello\n",
		},
		{
			name:       "non-zero exit is not an error",
			cmd:        Command{Name: "sh", Args: []string{"-c", "echo network error >&2; exit 3"}},
			wantCode:   3,
			wantStderr: "network error\n",
		},
		{
			name:       "stdin is forwarded",
			cmd:        Command{Name: "cat", Stdin: "s3cret"},
			wantCode:   0,
			wantStdout: "s3cret\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := newTestLogger()
			r := NewExecRunner(logger)

			res, err := r.Run(context.Background(), tt.cmd)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d", res.ExitCode, tt.wantCode)
			}
			if res.Stdout != tt.wantStdout {
				t.Errorf("Stdout = %q, want %q", res.Stdout, tt.wantStdout)
			}
			if res.Stderr != tt.wantStderr {
				t.Errorf("Stderr = %q, want %q", res.Stderr, tt.wantStderr)
			}
			if res.PID == 0 {
				t.Error("expected a process id")
			}
		})
	}
}

func TestExecRunner_RunInDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	logger, _ := newTestLogger()
	res, err := NewExecRunner(logger).Run(context.Background(), Command{Name: "ls", Dir: dir})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(res.Stdout, "marker.txt") {
		t.Errorf("expected listing of %s, got %q", dir, res.Stdout)
	}
}

func TestExecRunner_LogsStreamsWithPID(t *testing.T) {
	logger, buf := newTestLogger()
	_, err := NewExecRunner(logger).Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo pulled; echo network error >&2; exit 1"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	output := buf.String()
	for _, want := range []string{`"msg":"pulled"`, `"msg":"network error"`, `"level":"ERROR"`, `"pid":`, `"exit_code":1`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in log output:\n%s", want, output)
		}
	}
}

func TestExecRunner_SpawnError(t *testing.T) {
	logger, _ := newTestLogger()
	_, err := NewExecRunner(logger).Run(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"})
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if !IsSpawnError(err) {
		t.Errorf("expected SpawnError, got %T: %v", err, err)
	}
}

func TestExecRunner_EmptyName(t *testing.T) {
	logger, _ := newTestLogger()
	if _, err := NewExecRunner(logger).Run(context.Background(), Command{}); err == nil {
		t.Fatal("expected error for empty command name")
	}
}

func TestExecRunner_CaptureLimit(t *testing.T) {
	logger, _ := newTestLogger()
	r := NewExecRunner(logger, WithCaptureLimit(8))
	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo first; echo last"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stdout != "st\nlast\n" {
		t.Errorf("Stdout = %q, want tail %q", res.Stdout, "st\nlast\n")
	}
}

func TestExecRunner_OversizedLine(t *testing.T) {
	logger, buf := newTestLogger()
	res, err := NewExecRunner(logger).Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", `head -c 2000000 /dev/zero | tr '\0' x >&2; printf '\nnetwork error\n' >&2; exit 1`},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", res.ExitCode)
	}
	if !strings.HasSuffix(res.Stderr, "network error\n") {
		t.Errorf("stderr tail lost the line after the oversized one: %q", res.Stderr[max(0, len(res.Stderr)-64):])
	}
	if !strings.Contains(buf.String(), `"msg":"network error"`) {
		t.Error("line after the oversized one was not logged")
	}
}

func TestStream_TruncatesLongLines(t *testing.T) {
	input := strings.Repeat("x", maxLineSize+10) + "\nnext\nlast"
	tail := newTailBuffer(0)
	var lines []string
	stream(strings.NewReader(input), tail, func(line string) {
		lines = append(lines, line)
	})

	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	if want := strings.Repeat("x", maxLineSize) + truncatedMarker; lines[0] != want {
		t.Errorf("first line has %d bytes, want %d", len(lines[0]), len(want))
	}
	if lines[1] != "next" || lines[2] != "last" {
		t.Errorf("lines after truncation = %q", lines[1:])
	}
	if !strings.HasSuffix(tail.String(), "next\nlast\n") {
		t.Errorf("tail = %q", tail.String()[len(tail.String())-32:])
	}
}

func TestStream_KeepsEmptyLines(t *testing.T) {
	var lines []string
	stream(strings.NewReader("a\n\nb\n"), newTailBuffer(0), func(line string) {
		lines = append(lines, line)
	})
	if got := strings.Join(lines, "|"); got != "a||b" {
		t.Errorf("lines = %q, want %q", got, "a||b")
	}
}

func TestDryRunner_Run(t *testing.T) {
	logger, buf := newTestLogger()
	res, err := NewDryRunner(logger).Run(context.Background(), Command{Name: "docker-compose", Args: []string{"pull", "--quiet"}, Dir: "/srv/app"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if !strings.Contains(buf.String(), "docker-compose pull --quiet") {
		t.Errorf("expected command in log output, got %s", buf.String())
	}
}

func TestCommand_String(t *testing.T) {
	cmd := Command{Name: "docker", Args: []string{"login", "--password-stdin"}, Stdin: "secret"}
	if got := cmd.String(); got != "docker login --password-stdin" {
		t.Errorf("String() = %q", got)
	}
	if strings.Contains(cmd.String(), "secret") {
		t.Error("stdin must not appear in command string")
	}
}
