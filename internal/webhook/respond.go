package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tjfontaine/webxuker/internal/deploy"
	"github.com/tjfontaine/webxuker/internal/process"
	"github.com/tjfontaine/webxuker/internal/render"
	"github.com/tjfontaine/webxuker/internal/server"
)

type deployResponse struct {
	OK        bool    `json:"ok"`
	Time      string  `json:"time"`
	TimeSpent float64 `json:"timeSpent"`
}

// errorResponse omits timeSpent when the request failed before orchestration.
type errorResponse struct {
	Error     string   `json:"error"`
	Time      string   `json:"time"`
	TimeSpent *float64 `json:"timeSpent,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, status int, err error, elapsed *time.Duration) {
	server.AddError(r.Context(), err)

	resp := errorResponse{
		Error: publicMessage(err),
		Time:  formatTime(h.now()),
	}
	if elapsed != nil {
		seconds := elapsed.Seconds()
		resp.TimeSpent = &seconds
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// publicMessage is the error text returned to the caller. A failed step is
// described by repository, stage, step and exit code; command lines, host
// paths and process output stay in the log.
func publicMessage(err error) string {
	var stepErr *deploy.StepError
	if !errors.As(err, &stepErr) {
		return err.Error()
	}

	msg := fmt.Sprintf("deploy %s/%s failed at step %s", stepErr.Repo, stepErr.Stage, stepErr.Step)
	var (
		missingErr *render.MissingVariableError
		descErr    *render.DescriptorError
		cmdErr     *deploy.CommandFailureError
	)
	switch {
	case errors.As(err, &missingErr):
		return msg + ": " + missingErr.Error()
	case errors.As(err, &descErr):
		return msg + ": " + descErr.Error()
	case errors.Is(err, deploy.ErrEmptyTemplate):
		return msg + ": " + deploy.ErrEmptyTemplate.Error()
	case errors.As(err, &cmdErr):
		return fmt.Sprintf("%s: exit code %d", msg, cmdErr.ExitCode)
	case process.IsSpawnError(err):
		return msg + ": command could not be started"
	default:
		return msg
	}
}
