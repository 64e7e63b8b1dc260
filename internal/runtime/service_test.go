package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"

	"github.com/tjfontaine/webxuker/internal/pkg/config"
	"github.com/tjfontaine/webxuker/internal/process"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingRunner) Run(_ context.Context, cmd process.Command) (*process.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cmd.String())
	return &process.Result{PID: 1}, nil
}

type fakeDocker struct {
	closed bool
}

func (f *fakeDocker) ContainerList(context.Context, container.ListOptions) ([]container.Summary, error) {
	return []container.Summary{{
		Names:  []string{"/prod-app-1"},
		State:  "running",
		Labels: map[string]string{"com.docker.compose.project": "prod", "com.docker.compose.service": "app"},
	}}, nil
}

func (f *fakeDocker) Close() error {
	f.closed = true
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func writeFixture(t *testing.T) (configPath, workDir string) {
	t.Helper()
	dir := t.TempDir()
	templatePath := filepath.Join(dir, "app.yml")
	if err := os.WriteFile(templatePath, []byte("services:\n  app:\n    image: app:{{TAG}}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	workDir = filepath.Join(dir, "prod")
	configPath = filepath.Join(dir, "webxuker.yml")
	content := `
incoming:
  host: 127.0.0.1
  port: 18080
dockerRegistry:
  host: registry.example.com
  username: deployer
  password: s3cret
repositories:
  app:
    template: ` + templatePath + `
    stages:
      prod:
        workDir: ` + workDir + `
        variables:
          TAG: "1.2.3"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath, workDir
}

func TestService_New_RequiresConfig(t *testing.T) {
	_, err := New(WithLogger(quietLogger()))
	if err == nil {
		t.Fatal("Expected error without configuration")
	}
	if !strings.Contains(err.Error(), "configuration required") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestService_New_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(path, []byte("incoming:\n  host: x\n  port: 80\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(WithFileConfig(path)); err == nil {
		t.Fatal("Expected error for invalid configuration")
	}
}

func TestService_DeployAndHistory(t *testing.T) {
	configPath, workDir := writeFixture(t)
	runner := &recordingRunner{}
	docker := &fakeDocker{}

	svc, err := New(
		WithFileConfig(configPath),
		WithSQLite(filepath.Join(t.TempDir(), "history.db")),
		WithRunner(runner),
		WithDockerClient(docker),
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/deploy?repo=app&stage=prod", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("deploy status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(runner.calls) != 4 {
		t.Errorf("runner calls = %v", runner.calls)
	}
	if _, err := os.Stat(filepath.Join(workDir, "docker-compose.yml")); err != nil {
		t.Errorf("descriptor missing: %v", err)
	}

	rec = httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/deployments?repo=app", nil))
	var history struct {
		Deployments []struct {
			Status string `json:"status"`
		} `json:"deployments"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.Deployments) != 1 || history.Deployments[0].Status != "succeeded" {
		t.Errorf("history = %+v", history)
	}

	rec = httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/status?repo=app&stage=prod", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "prod-app-1") {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if err := svc.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if !docker.closed {
		t.Error("docker client was not closed")
	}
}

func TestService_DryRun(t *testing.T) {
	configPath, workDir := writeFixture(t)
	runner := &recordingRunner{}

	svc, err := New(WithFileConfig(configPath), WithRunner(runner), WithDryRun(true), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/deploy?repo=app&stage=prod", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(runner.calls) != 0 {
		t.Errorf("dry run spawned %v", runner.calls)
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Errorf("dry run created work directory: %v", err)
	}
}

func TestService_StartShutdown(t *testing.T) {
	cfg := &config.Config{
		Incoming:     config.IncomingConfig{Host: "127.0.0.1", Port: 0},
		Repositories: map[string]config.RepoConfig{},
	}
	svc, err := New(WithConfig(cfg), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := svc.Start(context.Background()); err == nil {
		t.Error("Expected error when starting twice")
	}
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case err := <-svc.Done():
		if err != nil {
			t.Errorf("listener error = %v", err)
		}
	case <-time.After(time.Second):
		t.Error("listener did not stop")
	}
}
