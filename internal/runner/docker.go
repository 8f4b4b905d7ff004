package runner

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/codecollab/internal/filetree"
	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	// Container configuration.
	defaultImage    = "node:20-alpine"
	containerUser   = "1000"
	workingDir      = "/app"
	appPort         = nat.Port("3000/tcp")
	stopTimeoutSecs = 10
	labelRoom       = "codecollab.room"

	// Resource limits.
	memoryLimitBytes = 512 * 1024 * 1024 // 512MB
	cpuQuota         = 50000             // 0.5 CPU
	pidsLimit        = 256

	createRetryAttempts = 5
	createRetryDelay    = 250 * time.Millisecond
)

var errUnsafePath = errors.New("unsafe file path")

// DockerEngine runs project snapshots in Docker containers.
type DockerEngine struct {
	cli     *client.Client
	image   string
	runtime string // "" = default (runc), "runsc" = gVisor
}

// NewDockerEngine creates a Docker-backed engine. An empty image selects the
// default Node.js image.
func NewDockerEngine(image, runtime string) (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if image == "" {
		image = defaultImage
	}
	if runtime == "" {
		slog.Info("Docker client initialized", "runtime", "default", "image", image)
	} else {
		slog.Info("Docker client initialized", "runtime", runtime, "image", image)
	}
	return &DockerEngine{cli: cli, image: image, runtime: runtime}, nil
}

func containerName(roomID string) string {
	return "codecollab-run-" + roomID
}

// Start creates a container for roomID, copies files into it and starts
// `npm install && npm start`. Any leftover container of the room is replaced.
func (e *DockerEngine) Start(ctx context.Context, roomID string, files filetree.Tree) (Instance, error) {
	archive, err := buildArchive(files)
	if err != nil {
		return Instance{}, err
	}

	name := containerName(roomID)
	config := &container.Config{
		Image:        e.image,
		User:         containerUser,
		WorkingDir:   workingDir,
		Cmd:          []string{"sh", "-c", "npm install && npm start"},
		Env:          []string{"PORT=" + appPort.Port(), "NODE_ENV=development"},
		ExposedPorts: nat.PortSet{appPort: struct{}{}},
		Labels:       map[string]string{labelRoom: roomID},
	}
	hostConfig := &container.HostConfig{
		Runtime: e.runtime,
		PortBindings: nat.PortMap{
			appPort: []nat.PortBinding{{HostIP: "127.0.0.1"}},
		},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}

	var resp container.CreateResponse
	var createErr error
	for i := 0; i < createRetryAttempts; i++ {
		resp, createErr = e.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
		if createErr == nil {
			break
		}
		if !errdefs.IsConflict(createErr) && !strings.Contains(strings.ToLower(createErr.Error()), "already in use") {
			return Instance{}, fmt.Errorf("create container: %w", createErr)
		}

		// A previous run of this room is still around. Remove it and retry.
		slog.Warn("Container name conflict during create, retrying",
			"room_id", roomID,
			"container_name", name,
			"attempt", i+1,
			"error", createErr,
		)
		if stopErr := e.Stop(ctx, name); stopErr != nil {
			slog.Warn("Failed to remove conflicting container", "container_name", name, "error", stopErr)
		}

		select {
		case <-ctx.Done():
			return Instance{}, ctx.Err()
		case <-time.After(createRetryDelay):
		}
	}
	if createErr != nil {
		return Instance{}, fmt.Errorf("create container after retries: %w", createErr)
	}

	if err := e.cli.CopyToContainer(ctx, resp.ID, "/", bytes.NewReader(archive), container.CopyToContainerOptions{}); err != nil {
		e.discard(resp.ID)
		return Instance{}, fmt.Errorf("copy files into %s: %w", resp.ID, err)
	}

	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		e.discard(resp.ID)
		return Instance{}, fmt.Errorf("start container %s: %w", resp.ID, err)
	}

	inst := Instance{ContainerID: resp.ID}
	if inspect, err := e.cli.ContainerInspect(ctx, resp.ID); err == nil && inspect.NetworkSettings != nil {
		if bindings := inspect.NetworkSettings.Ports[appPort]; len(bindings) > 0 {
			inst.URL = fmt.Sprintf("http://%s:%s", bindings[0].HostIP, bindings[0].HostPort)
		}
	}

	slog.Info("Run container started", "container_id", resp.ID, "room_id", roomID, "files", len(files), "url", inst.URL)
	return inst, nil
}

func (e *DockerEngine) discard(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("Failed to remove container after start failure", "container_id", containerID, "error", err)
	}
}

// Stop stops and removes a container. It is idempotent.
func (e *DockerEngine) Stop(ctx context.Context, containerID string) error {
	slog.Info("Stopping container", "container_id", containerID)

	if _, err := e.cli.ContainerInspect(ctx, containerID); err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Container already removed", "container_id", containerID)
			return nil
		}
		return fmt.Errorf("inspect container %s: %w", containerID, err)
	}

	timeout := stopTimeoutSecs
	if err := e.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Container already stopped/removed", "container_id", containerID)
		} else {
			slog.Debug("Container stop returned error, continuing to remove", "container_id", containerID, "error", err)
		}
	}

	if err := e.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		if strings.Contains(err.Error(), "is already in progress") {
			slog.Debug("Container removal already in progress", "container_id", containerID)
			return nil
		}
		if ctx.Err() != nil {
			slog.Debug("Context canceled during remove, container may still be removed", "container_id", containerID, "error", err)
			return nil
		}
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}

	slog.Info("Container stopped and removed", "container_id", containerID)
	return nil
}

// IsRunning checks if a container is currently running.
func (e *DockerEngine) IsRunning(ctx context.Context, containerID string) (bool, error) {
	inspect, err := e.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect container %s: %w", containerID, err)
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// Ping checks that the Docker daemon is reachable.
func (e *DockerEngine) Ping(ctx context.Context) error {
	if _, err := e.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	return nil
}

// Close releases the Docker client.
func (e *DockerEngine) Close() error {
	return e.cli.Close()
}

// buildArchive packs files into a tar rooted at the working directory.
// Paths are cleaned; absolute paths and parent traversal are rejected.
func buildArchive(files filetree.Tree) ([]byte, error) {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now()

	dirs := map[string]bool{}
	writeDir := func(dir string) error {
		if dirs[dir] {
			return nil
		}
		dirs[dir] = true
		return tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeDir,
			Name:     dir + "/",
			Mode:     0o755,
			Uid:      1000,
			Gid:      1000,
			ModTime:  now,
		})
	}

	root := strings.TrimPrefix(workingDir, "/")
	if err := writeDir(root); err != nil {
		return nil, err
	}

	for _, p := range paths {
		if !safePath(p) {
			return nil, fmt.Errorf("%w: %q", errUnsafePath, p)
		}
		clean := path.Clean("/" + p)
		name := root + clean

		var parents []string
		for dir := path.Dir(name); dir != root && dir != "." && dir != "/"; dir = path.Dir(dir) {
			parents = append(parents, dir)
		}
		for i := len(parents) - 1; i >= 0; i-- {
			if err := writeDir(parents[i]); err != nil {
				return nil, err
			}
		}

		content := files[p]
		if err := tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeReg,
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Uid:      1000,
			Gid:      1000,
			ModTime:  now,
		}); err != nil {
			return nil, err
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func safePath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return false
		}
	}
	return path.Clean("/"+p) != "/"
}

func ptr[T any](v T) *T {
	return &v
}
