package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// dockerClient is a thin wrapper over the Docker SDK, scoped to exactly the
// operations the sandbox manager needs: create/start/exec/remove a
// container by name, with output demuxed into stdout/stderr.
type dockerClient struct {
	api *client.Client
}

// newDockerClient connects to the local Docker daemon, falling back to a
// Colima-style socket when the default is unavailable. A non-nil error here
// means no usable daemon was found at all; callers degrade to host execution.
func newDockerClient() (*dockerClient, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	if pingErr := ping(cli); pingErr == nil {
		return &dockerClient{api: cli}, nil
	} else if host, ok := autoDockerHost(); ok {
		_ = cli.Close()
		alt, altErr := client.NewClientWithOpts(client.WithHost(host), client.WithAPIVersionNegotiation())
		if altErr == nil {
			if pingErr := ping(alt); pingErr == nil {
				return &dockerClient{api: alt}, nil
			}
			_ = alt.Close()
		}
		return nil, pingErr
	} else {
		_ = cli.Close()
		return nil, pingErr
	}
}

func ping(cli *client.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := cli.Ping(ctx)
	return err
}

func (d *dockerClient) Close() error {
	if d == nil || d.api == nil {
		return nil
	}
	return d.api.Close()
}

// containerByName returns the container id if one with this name exists
// (in any state), and "", nil if not found.
func (d *dockerClient) containerByName(ctx context.Context, name string) (string, *types.ContainerJSON, error) {
	info, err := d.api.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", nil, nil
		}
		return "", nil, err
	}
	return info.ID, &info, nil
}

func (d *dockerClient) createAndStart(ctx context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig) (string, error) {
	resp, err := d.api.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return "", err
	}
	if err := d.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = d.api.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", err
	}
	return resp.ID, nil
}

func (d *dockerClient) remove(ctx context.Context, containerID string, force bool) error {
	if strings.TrimSpace(containerID) == "" {
		return nil
	}
	return d.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force, RemoveVolumes: true})
}

// execResult is the demultiplexed output of one exec call.
type execResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// exec runs cmd inside the container, demultiplexing the Docker stream
// protocol into separate stdout/stderr buffers, and bounds the call by ctx.
func (d *dockerClient) exec(ctx context.Context, containerID, workDir string, cmd []string) (execResult, error) {
	if strings.TrimSpace(containerID) == "" {
		return execResult{}, errors.New("container id required")
	}

	execResp, err := d.api.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
		WorkingDir:   workDir,
	})
	if err != nil {
		return execResult{}, err
	}

	attach, err := d.api.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return execResult{}, err
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- copyErr
	}()

	select {
	case <-ctx.Done():
		return execResult{Stdout: stdout.String(), Stderr: stderr.String()}, fmt.Errorf("command timed out: %w", ctx.Err())
	case copyErr := <-copyDone:
		if copyErr != nil && copyErr != io.EOF {
			return execResult{}, copyErr
		}
	}

	inspect, err := d.api.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return execResult{Stdout: stdout.String(), Stderr: stderr.String()}, err
	}

	return execResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: inspect.ExitCode}, nil
}
