// Package compose inspects the containers of a docker-compose project.
package compose

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
)

const (
	projectLabel = "com.docker.compose.project"
	serviceLabel = "com.docker.compose.service"
)

// DockerClient is the subset of the Docker SDK used by this package.
type DockerClient interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
}

// Container is the observed state of one compose service container.
type Container struct {
	Name    string `json:"name"`
	Service string `json:"service"`
	Image   string `json:"image"`
	State   string `json:"state"`
	Status  string `json:"status"`
}

// ProjectName returns the compose project name docker-compose derives from
// a work directory: its base name, lowercased, without characters outside
// [a-z0-9_-] and without leading '_' or '-'.
func ProjectName(workDir string) string {
	if abs, err := filepath.Abs(workDir); err == nil {
		workDir = abs
	}
	base := strings.ToLower(filepath.Base(workDir))
	var b strings.Builder
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.TrimLeft(b.String(), "_-")
}

// Inspector lists compose project containers through the Docker API.
type Inspector struct {
	client DockerClient
}

// NewInspector wraps client.
func NewInspector(client DockerClient) *Inspector {
	return &Inspector{client: client}
}

// ProjectContainers returns every container, running or not, that belongs
// to project, ordered by service then name.
func (i *Inspector) ProjectContainers(ctx context.Context, project string) ([]Container, error) {
	labelFilter := filters.NewArgs()
	labelFilter.Add("label", fmt.Sprintf("%s=%s", projectLabel, project))

	containers, err := i.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: labelFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("list containers of project %q: %w", project, err)
	}

	result := make([]Container, 0, len(containers))
	for _, ctr := range containers {
		if ctr.Labels == nil || ctr.Labels[projectLabel] != project {
			continue
		}

		name := ""
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}

		result = append(result, Container{
			Name:    name,
			Service: ctr.Labels[serviceLabel],
			Image:   ctr.Image,
			State:   string(ctr.State),
			Status:  ctr.Status,
		})
	}
	sort.Slice(result, func(a, b int) bool {
		if result[a].Service != result[b].Service {
			return result[a].Service < result[b].Service
		}
		return result[a].Name < result[b].Name
	})
	return result, nil
}
