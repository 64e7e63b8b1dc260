package compose

import "github.com/docker/docker/client"

// NewDockerClient constructs a Docker SDK client from the environment
// (DOCKER_HOST and friends) with API version negotiation.
func NewDockerClient() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}
