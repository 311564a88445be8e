package container

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/majorcontext/agento/internal/log"
)

// DockerDriver implements Driver with the Docker Engine API.
type DockerDriver struct {
	cli *client.Client
}

// NewDockerDriver connects to the engine configured by the environment
// (DOCKER_HOST and friends).
func NewDockerDriver() (*DockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerDriver{cli: cli}, nil
}

// Ping verifies the Docker daemon is accessible.
func (d *DockerDriver) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not accessible: %w", err)
	}
	return nil
}

// Start implements Driver.
func (d *DockerDriver) Start(ctx context.Context, spec LaunchSpec) (string, error) {
	if err := PrepareAgentDir(spec); err != nil {
		return "", err
	}
	if err := d.ensureImage(ctx, spec.Image); err != nil {
		return "", err
	}

	name := ContainerName(spec.AgentID)
	// A container with our name may survive from a run whose id was lost.
	if err := d.Remove(ctx, name); err != nil {
		return "", err
	}

	cfg, hostCfg := buildContainerConfig(spec)
	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}
	for _, w := range resp.Warnings {
		log.Warn("container create warning", "agent_id", spec.AgentID, "warning", w)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if rmErr := d.Remove(context.WithoutCancel(ctx), resp.ID); rmErr != nil {
			log.Debug("removing container after failed start", "container_id", resp.ID, "error", rmErr)
		}
		return "", fmt.Errorf("starting container: %w", err)
	}
	return resp.ID, nil
}

// Stop implements Driver.
func (d *DockerDriver) Stop(ctx context.Context, id string) error {
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("stopping container: %w", err)
	}
	return nil
}

// Remove implements Driver.
func (d *DockerDriver) Remove(ctx context.Context, id string) error {
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		// Ignore "not found" errors - container may have already been removed
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

// Inspect implements Driver.
func (d *DockerDriver) Inspect(ctx context.Context, id string) (State, error) {
	inspect, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return State{Status: StatusNotFound}, nil
		}
		return State{}, fmt.Errorf("inspecting container: %w", err)
	}
	if inspect.State == nil {
		return State{Status: "unknown"}, nil
	}
	return State{
		Running:   inspect.State.Running,
		Status:    string(inspect.State.Status),
		StartedAt: inspect.State.StartedAt,
	}, nil
}

// Stats implements Driver. It reads one snapshot; the engine includes the
// previous CPU sample in it, which gives the percentage its baseline.
func (d *DockerDriver) Stats(ctx context.Context, id string) (Stats, error) {
	resp, err := d.cli.ContainerStats(ctx, id, false)
	if err != nil {
		return Stats{}, fmt.Errorf("reading container stats: %w", err)
	}
	defer resp.Body.Close()

	var s container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Stats{}, fmt.Errorf("decoding container stats: %w", err)
	}
	return formatStats(&s), nil
}

// Logs implements Driver.
func (d *DockerDriver) Logs(ctx context.Context, id string, opts LogOptions) (string, error) {
	logOpts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Since:      opts.Since,
	}
	if opts.Tail > 0 {
		logOpts.Tail = strconv.Itoa(opts.Tail)
	}
	reader, err := d.cli.ContainerLogs(ctx, id, logOpts)
	if err != nil {
		return "", fmt.Errorf("getting container logs: %w", err)
	}
	defer reader.Close()

	inspect, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return "", fmt.Errorf("inspecting container to determine log format: %w", err)
	}
	if inspect.Config != nil && inspect.Config.Tty {
		data, err := io.ReadAll(reader)
		return string(data), err
	}

	// Both streams go to one buffer so frames keep their arrival order.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return "", fmt.Errorf("demuxing logs: %w", err)
	}
	return buf.String(), nil
}

// ListManaged implements Driver.
func (d *DockerDriver) ListManaged(ctx context.Context) ([]Managed, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	result := make([]Managed, 0, len(containers))
	for _, c := range containers {
		var name string
		if len(c.Names) > 0 {
			// Names have a leading slash, e.g. "/agento-3f2a9c1e"
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		result = append(result, Managed{
			ID:      c.ID,
			Name:    name,
			Status:  c.Status,
			AgentID: c.Labels[LabelAgentID],
		})
	}
	return result, nil
}

// Close releases Docker client resources.
func (d *DockerDriver) Close() error {
	return d.cli.Close()
}

// ensureImage pulls an image if it doesn't exist locally.
func (d *DockerDriver) ensureImage(ctx context.Context, ref string) error {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspecting image %s: %w", ref, err)
	}

	log.Info("pulling image", "image", ref)
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	defer reader.Close()

	// Drain the reader to complete the pull (discard JSON progress output)
	_, _ = io.Copy(io.Discard, reader)
	return nil
}
