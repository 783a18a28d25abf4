package requirements

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	containerTargetDir   = "/target"
	containerManifestDir = "/manifest"
)

// DockerInstaller runs the package manager inside a container, with the
// install directory and the manifest bind-mounted.
type DockerInstaller struct {
	cli   *client.Client
	Image string
	Args  []string
}

func NewDockerInstaller(img string, args []string) (*DockerInstaller, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("could not create docker client: %w", err)
	}
	if len(args) == 0 {
		args = DefaultInstallerArgs
	}
	return &DockerInstaller{cli: cli, Image: img, Args: args}, nil
}

func (d *DockerInstaller) Name() string {
	return "docker"
}

func (d *DockerInstaller) Install(ctx context.Context, manifest, target string) ([]byte, error) {
	packages, err := ReadManifest(manifest)
	if err != nil {
		return nil, err
	}
	if len(packages) == 0 && usesPackages(d.Args) {
		return nil, nil
	}

	absManifest, err := filepath.Abs(manifest)
	if err != nil {
		return nil, err
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return nil, err
	}
	mountedManifest := containerManifestDir + "/" + filepath.Base(absManifest)

	if !d.hasImage(ctx) {
		if err := d.pullImage(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image: d.Image,
		Cmd:   ExpandArgs(d.Args, mountedManifest, containerTargetDir, packages),
		User:  fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		Tty:   false,
	}, &container.HostConfig{
		Binds: []string{
			absTarget + ":" + containerTargetDir,
			absManifest + ":" + mountedManifest + ":ro",
		},
	}, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("could not create the installer container: %w", err)
	}
	defer func() {
		// force removes the container even if the wait was interrupted
		err := d.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		if err != nil {
			log.Printf("Could not remove installer container %s: %v", resp.ID, err)
		}
	}()

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("could not start the installer container: %w", err)
	}

	var exitCode int64
	statusCh, errCh := d.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("waiting for the installer container: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	out := d.logs(resp.ID)
	if exitCode != 0 {
		return out, fmt.Errorf("installer container exited with status %d", exitCode)
	}
	return out, nil
}

func (d *DockerInstaller) hasImage(ctx context.Context) bool {
	list, err := d.cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", d.Image)),
	})
	if err != nil {
		log.Printf("image list error: %v", err)
		return false
	}
	for _, summary := range list {
		for _, tag := range summary.RepoTags {
			if strings.HasPrefix(tag, d.Image) {
				return true
			}
		}
	}
	return false
}

func (d *DockerInstaller) pullImage(ctx context.Context) error {
	pullResp, err := d.cli.ImagePull(ctx, d.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("could not pull image '%s': %w", d.Image, err)
	}
	defer func(pullResp io.ReadCloser) {
		if err := pullResp.Close(); err != nil {
			log.Printf("Could not close the docker image pull response")
		}
	}(pullResp)
	// the pull completes only once the response has been drained
	_, _ = io.Copy(io.Discard, pullResp)
	log.Printf("Pulled image: %s", d.Image)
	return nil
}

func (d *DockerInstaller) logs(id string) []byte {
	reader, err := d.cli.ContainerLogs(context.Background(), id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return []byte(fmt.Sprintf("can't get the logs: %v", err))
	}
	defer func() {
		_ = reader.Close()
	}()
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		buf.WriteString(fmt.Sprintf("\ncan't read the logs: %v", err))
	}
	return buf.Bytes()
}
