package fleet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	dockerpkg "github.com/dyluth/genegrid/internal/docker"
	"github.com/dyluth/genegrid/internal/printer"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// ErrInstanceNotFound is returned by Down when no container carries the instance label.
var ErrInstanceNotFound = errors.New("instance not found")

// DockerAPI is the subset of the Docker client used by the fleet.
type DockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	NetworkCreate(ctx context.Context, name string, options types.NetworkCreate) (types.NetworkCreateResponse, error)
	NetworkList(ctx context.Context, options types.NetworkListOptions) ([]types.NetworkResource, error)
	NetworkRemove(ctx context.Context, networkID string) error
}

var _ DockerAPI = (*client.Client)(nil)

const (
	redisPort      nat.Port = "6379/tcp"
	healthPort     nat.Port = "8080/tcp"
	workspaceMount          = "/workspace"
	stateMount              = "/state"

	// CheckpointPath is where the coordinator container keeps its checkpoints.
	// The workspace is read-only, so it lives on a writable volume.
	CheckpointPath = stateMount + "/genegrid-checkpoints.db"

	// Host port range searched for the Redis binding.
	redisPortStart = 6379
	redisPortEnd   = 6478
)

// Spec describes one deployment.
type Spec struct {
	Instance   string
	RunID      string
	Image      string
	RedisImage string
	// WorkspacePath is mounted read-only at /workspace and used as the working
	// directory, so genegrid.yml and command evaluators resolve inside it.
	WorkspacePath string
	StartRows     []int
	BlockSize     int
	// HealthPort publishes the coordinator's health server on the host; 0 skips it.
	HealthPort int
	// RedisHostPort publishes Redis on 127.0.0.1; 0 keeps it internal.
	RedisHostPort int
}

// Validate checks the spec before any resource is created.
func (s Spec) Validate() error {
	if err := ValidateName(s.Instance); err != nil {
		return err
	}
	if s.Image == "" || s.RedisImage == "" {
		return fmt.Errorf("image and redis image are required")
	}
	if s.WorkspacePath == "" {
		return fmt.Errorf("workspace path is required")
	}
	if len(s.StartRows) == 0 {
		return fmt.Errorf("at least one worker is required")
	}
	if s.BlockSize < 1 {
		return fmt.Errorf("block size must be >= 1, got %d", s.BlockSize)
	}
	return nil
}

func (s Spec) redisURL() string {
	return fmt.Sprintf("redis://%s:6379", dockerpkg.RedisContainerName(s.Instance))
}

// env is shared by the coordinator and the workers.
func (s Spec) env() []string {
	return []string{
		"GENEGRID_INSTANCE=" + s.Instance,
		"GENEGRID_BACKEND=redis",
		"REDIS_URL=" + s.redisURL(),
		"GENEGRID_BLOCK_SIZE=" + strconv.Itoa(s.BlockSize),
		"NO_COLOR=1",
	}
}

// Up creates the network, Redis, the coordinator and one worker per start row.
// A failure part way rolls back everything created for the instance.
func Up(ctx context.Context, api DockerAPI, spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	existing, err := api.ContainerList(ctx, container.ListOptions{All: true, Filters: dockerpkg.InstanceFilter(spec.Instance)})
	if err != nil {
		return fmt.Errorf("failed to check for name collision: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("instance '%s' already exists", spec.Instance)
	}

	if err := create(ctx, api, spec); err != nil {
		printer.Warning("Resource creation failed. Rolling back...\n")
		if rbErr := remove(ctx, api, spec.Instance); rbErr != nil && !errors.Is(rbErr, ErrInstanceNotFound) {
			printer.Warning("rollback encountered errors: %v\n", rbErr)
		}
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

func create(ctx context.Context, api DockerAPI, spec Spec) error {
	networkName := dockerpkg.NetworkName(spec.Instance)
	_, err := api.NetworkCreate(ctx, networkName, types.NetworkCreate{
		Driver: "bridge",
		Labels: dockerpkg.BuildLabels(spec.Instance, spec.RunID, ""),
	})
	if err != nil {
		return fmt.Errorf("failed to create network '%s': %w", networkName, err)
	}
	printer.Success("Created network: %s\n", networkName)

	// Redis
	redisLabels := dockerpkg.BuildLabels(spec.Instance, spec.RunID, dockerpkg.ComponentRedis)
	redisHost := &container.HostConfig{NetworkMode: container.NetworkMode(networkName)}
	if spec.RedisHostPort > 0 {
		redisLabels[dockerpkg.LabelRedisPort] = strconv.Itoa(spec.RedisHostPort)
		redisHost.PortBindings = nat.PortMap{
			redisPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(spec.RedisHostPort)}},
		}
	}
	redisName := dockerpkg.RedisContainerName(spec.Instance)
	if err := run(ctx, api, redisName, &container.Config{
		Image:        spec.RedisImage,
		Labels:       redisLabels,
		ExposedPorts: nat.PortSet{redisPort: struct{}{}},
	}, redisHost); err != nil {
		return err
	}
	if spec.RedisHostPort > 0 {
		printer.Success("Started Redis container: %s (port %d)\n", redisName, spec.RedisHostPort)
	} else {
		printer.Success("Started Redis container: %s\n", redisName)
	}

	// Coordinator
	coordLabels := dockerpkg.BuildLabels(spec.Instance, spec.RunID, dockerpkg.ComponentCoordinator)
	coordHost := workspaceHostConfig(networkName, spec.WorkspacePath)
	// Anonymous volume, removed with the container by Down.
	coordHost.Mounts = append(coordHost.Mounts, mount.Mount{
		Type:          mount.TypeVolume,
		Target:        stateMount,
		VolumeOptions: &mount.VolumeOptions{Labels: coordLabels},
	})
	if spec.HealthPort > 0 {
		coordHost.PortBindings = nat.PortMap{
			healthPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(spec.HealthPort)}},
		}
	}
	coordName := dockerpkg.CoordinatorContainerName(spec.Instance)
	if err := run(ctx, api, coordName, &container.Config{
		Image:        spec.Image,
		Cmd:          []string{"coordinator"},
		Env:          append(spec.env(), "GENEGRID_CHECKPOINT_PATH="+CheckpointPath),
		WorkingDir:   workspaceMount,
		Labels:       coordLabels,
		ExposedPorts: nat.PortSet{healthPort: struct{}{}},
	}, coordHost); err != nil {
		return err
	}
	printer.Success("Started coordinator container: %s\n", coordName)

	// Workers
	for _, start := range spec.StartRows {
		name := dockerpkg.WorkerContainerName(spec.Instance, start)
		if err := run(ctx, api, name, &container.Config{
			Image:        spec.Image,
			Cmd:          []string{"worker", strconv.Itoa(start)},
			Env:          spec.env(),
			WorkingDir:   workspaceMount,
			Labels:       dockerpkg.WorkerLabels(spec.Instance, spec.RunID, start, spec.BlockSize),
			ExposedPorts: nat.PortSet{healthPort: struct{}{}},
		}, workspaceHostConfig(networkName, spec.WorkspacePath)); err != nil {
			return err
		}
		printer.Success("Started worker container: %s (rows %d-%d)\n", name, start, start+spec.BlockSize-1)
	}

	return nil
}

func workspaceHostConfig(networkName, workspacePath string) *container.HostConfig {
	return &container.HostConfig{
		NetworkMode: container.NetworkMode(networkName),
		Mounts: []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   workspacePath,
			Target:   workspaceMount,
			ReadOnly: true,
		}},
	}
}

func run(ctx context.Context, api DockerAPI, name string, cfg *container.Config, host *container.HostConfig) error {
	resp, err := api.ContainerCreate(ctx, cfg, host, nil, nil, name)
	if err != nil {
		return fmt.Errorf("failed to create container %s: %w", name, err)
	}
	if err := api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}
	return nil
}

// Down stops and removes every container and network of the instance.
func Down(ctx context.Context, api DockerAPI, instanceName string) error {
	return remove(ctx, api, instanceName)
}

func remove(ctx context.Context, api DockerAPI, instanceName string) error {
	containers, err := api.ContainerList(ctx, container.ListOptions{All: true, Filters: dockerpkg.InstanceFilter(instanceName)})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}
	networks, err := api.NetworkList(ctx, types.NetworkListOptions{Filters: dockerpkg.InstanceFilter(instanceName)})
	if err != nil {
		return fmt.Errorf("failed to list networks: %w", err)
	}
	if len(containers) == 0 && len(networks) == 0 {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceName)
	}

	// Stop containers (10s graceful timeout)
	timeout := 10
	for _, c := range containers {
		name := containerName(c)
		printer.Step("Stopping %s...\n", name)
		if err := api.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
			// Container might already be stopped
			printer.Warning("failed to stop %s: %v\n", name, err)
		}
	}

	var errs []error
	for _, c := range containers {
		name := containerName(c)
		printer.Step("Removing %s...\n", name)
		if err := api.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", name, err))
		}
	}
	for _, n := range networks {
		printer.Step("Removing network %s...\n", n.Name)
		if err := api.NetworkRemove(ctx, n.ID); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove network %s: %w", n.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Instance summarises one deployment for `genegrid fleet list`.
type Instance struct {
	Name        string `json:"name"`
	RunID       string `json:"run_id"`
	Status      Status `json:"status"`
	Coordinator string `json:"coordinator"` // container state, empty when missing
	Workers     int    `json:"workers"`
	Running     int    `json:"running_workers"`
	StartRows   []int  `json:"start_rows"`

	containers, running int
}

// List returns every genegrid instance found in Docker, sorted by name.
func List(ctx context.Context, api DockerAPI) ([]Instance, error) {
	containers, err := api.ContainerList(ctx, container.ListOptions{All: true, Filters: dockerpkg.ProjectFilter()})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	byName := make(map[string]*Instance)
	for _, c := range containers {
		name := c.Labels[dockerpkg.LabelInstanceName]
		if name == "" {
			continue
		}
		inst, ok := byName[name]
		if !ok {
			inst = &Instance{Name: name, RunID: c.Labels[dockerpkg.LabelInstanceRunID]}
			byName[name] = inst
		}

		inst.containers++
		if c.State == "running" {
			inst.running++
		}

		switch c.Labels[dockerpkg.LabelComponent] {
		case dockerpkg.ComponentCoordinator:
			inst.Coordinator = c.State
		case dockerpkg.ComponentWorker:
			inst.Workers++
			if c.State == "running" {
				inst.Running++
			}
			if start, err := strconv.Atoi(c.Labels[dockerpkg.LabelStartRow]); err == nil {
				inst.StartRows = append(inst.StartRows, start)
			}
		}
	}

	out := make([]Instance, 0, len(byName))
	for _, inst := range byName {
		sort.Ints(inst.StartRows)
		inst.Status = determineStatus(inst.running, inst.containers)
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FindRedisHostPort returns the first host port in 6379-6478 that is neither
// claimed by another genegrid Redis container nor bound on this host.
func FindRedisHostPort(ctx context.Context, api DockerAPI) (int, error) {
	f := dockerpkg.ProjectFilter()
	f.Add("label", fmt.Sprintf("%s=%s", dockerpkg.LabelComponent, dockerpkg.ComponentRedis))

	containers, err := api.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return 0, fmt.Errorf("failed to query Docker containers: %w", err)
	}

	used := make(map[int]bool)
	for _, c := range containers {
		if port, err := strconv.Atoi(c.Labels[dockerpkg.LabelRedisPort]); err == nil {
			used[port] = true
		}
	}

	for port := redisPortStart; port <= redisPortEnd; port++ {
		if !used[port] && isPortBindable(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available Redis ports (range %d-%d exhausted)", redisPortStart, redisPortEnd)
}

func isPortBindable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

func containerName(c types.Container) string {
	if len(c.Names) == 0 {
		return c.ID
	}
	return strings.TrimPrefix(c.Names[0], "/")
}
