package docker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
	"golang.org/x/sync/errgroup"

	"github.com/artpar/botctl/internal/core/compose"
	"github.com/artpar/botctl/internal/core/deployment"
	"github.com/artpar/botctl/internal/core/domain"
)

// buildExcludes are workspace paths never sent to the daemon as build context.
var buildExcludes = []string{
	deployment.SecretFile,
	deployment.DataDir,
	".git",
}

// =============================================================================
// Driver - Runs Instance Service Groups
// =============================================================================

// WorkspaceResolver maps a namespace to its workspace directory.
type WorkspaceResolver interface {
	ResolvePath(slug string) string
}

// DriverOptions configures a Driver.
type DriverOptions struct {
	Prefix      string        // container and image prefix
	Progress    io.Writer     // build output; discarded when nil
	StopTimeout time.Duration // grace period before a container is killed
	Logger      *slog.Logger
}

// ServiceStatus is the runtime state of one container of a namespace.
type ServiceStatus struct {
	Name    string // container name
	Service string
	State   ContainerStatus
	Status  string // human readable, e.g. "Up 3 hours"
	Image   string
}

// Running reports whether the container is running.
func (s ServiceStatus) Running() bool {
	return s.State == ContainerStatusRunning
}

// Driver builds, runs and tears down the service group of each instance.
// Every operation is scoped by namespace, so instances never share a
// container, network or volume.
type Driver struct {
	docker      Client
	workspaces  WorkspaceResolver
	prefix      string
	progress    io.Writer
	stopTimeout time.Duration
	logger      *slog.Logger
}

// NewDriver creates a new driver.
func NewDriver(docker Client, workspaces WorkspaceResolver, opts DriverOptions) *Driver {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Prefix == "" {
		opts.Prefix = deployment.DefaultPrefix
	}
	if opts.Progress == nil {
		opts.Progress = io.Discard
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	return &Driver{
		docker:      docker,
		workspaces:  workspaces,
		prefix:      opts.Prefix,
		progress:    opts.Progress,
		stopTimeout: opts.StopTimeout,
		logger:      opts.Logger,
	}
}

// Ping checks the daemon. Permission problems unwrap to domain.ErrPermission.
func (d *Driver) Ping(ctx context.Context) error {
	return d.docker.Ping(ctx)
}

// =============================================================================
// Build
// =============================================================================

// Build builds the image of every service in the workspace descriptor that
// declares a build section. Failures wrap domain.ErrBuild and carry the
// daemon's message.
func (d *Driver) Build(ctx context.Context, namespace, workspace string) error {
	spec, err := d.loadDescriptor(workspace)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrBuild, err)
	}

	built := 0
	for _, svc := range spec.Services {
		if svc.Build == nil {
			continue
		}
		tag := svc.Image
		if tag == "" {
			tag = deployment.ServiceImageName(d.prefix, namespace, svc.Name)
		}
		contextDir := svc.Build.Context
		if !filepath.IsAbs(contextDir) {
			contextDir = filepath.Join(workspace, contextDir)
		}

		d.logger.Info("building image", "namespace", namespace, "service", svc.Name, "image", tag)
		err := d.docker.BuildImage(ctx, contextDir, BuildOptions{
			Tag:        tag,
			Dockerfile: svc.Build.Dockerfile,
			Labels:     deployment.InstanceLabels(namespace),
			Excludes:   buildExcludes,
			Progress:   d.progress,
		})
		if err != nil {
			return fmt.Errorf("%w: service %s: %w", domain.ErrBuild, svc.Name, err)
		}
		built++
	}

	d.logger.Debug("build finished", "namespace", namespace, "images", built)
	return nil
}

// =============================================================================
// Up
// =============================================================================

// Up creates and starts the namespace's service group detached, replacing
// any container left from a previous run. Failures wrap domain.ErrStart.
func (d *Driver) Up(ctx context.Context, namespace string) error {
	workspace := d.workspaces.ResolvePath(namespace)
	spec, err := d.loadDescriptor(workspace)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStart, err)
	}

	d.logger.Info("starting service group", "namespace", namespace, "services", len(spec.Services))

	networkName := deployment.NetworkName(namespace)
	if err := d.ensureNetwork(ctx, namespace, networkName); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStart, err)
	}

	external := make(map[string]bool)
	for _, vol := range spec.Volumes {
		if vol.External {
			external[vol.Name] = true
			continue
		}
		name := deployment.VolumeName(d.prefix, namespace, vol.Name)
		if _, err := d.docker.CreateVolume(ctx, VolumeSpec{
			Name:   name,
			Driver: vol.Driver,
			Labels: deployment.InstanceLabels(namespace),
		}); err != nil {
			return fmt.Errorf("%w: volume %s: %w", domain.ErrStart, vol.Name, err)
		}
	}

	for _, svc := range deployment.TopologicalSort(spec.Services) {
		if err := d.startService(ctx, namespace, workspace, networkName, external, svc); err != nil {
			return fmt.Errorf("%w: service %s: %w", domain.ErrStart, svc.Name, err)
		}
	}

	d.logger.Info("service group started", "namespace", namespace)
	return nil
}

func (d *Driver) startService(ctx context.Context, namespace, workspace, networkName string, external map[string]bool, svc compose.Service) error {
	envFile, err := d.readEnvFiles(workspace, svc.EnvFiles)
	if err != nil {
		return err
	}

	plan := deployment.BuildContainerPlan(deployment.BuildContainerPlanParams{
		Prefix:      d.prefix,
		Namespace:   namespace,
		Workspace:   workspace,
		Service:     svc,
		EnvFile:     envFile,
		NetworkName: networkName,
		External:    external,
	})

	if svc.Build == nil {
		if err := d.ensureImage(ctx, plan.Image); err != nil {
			return err
		}
	}

	if err := d.claimName(ctx, namespace, plan.Name); err != nil {
		return err
	}
	if err := d.docker.RemoveContainer(ctx, plan.Name, RemoveOptions{Force: true}); err != nil && !isGone(err) {
		return err
	}

	id, err := d.docker.CreateContainer(ctx, containerSpecFromPlan(plan))
	if err != nil {
		return err
	}
	if err := d.docker.StartContainer(ctx, id); err != nil && !errors.Is(err, ErrContainerAlreadyRunning) {
		return err
	}

	d.logger.Debug("started container", "namespace", namespace, "service", svc.Name, "container", plan.Name)
	return nil
}

// claimName fails with domain.ErrNameTaken when name is held by a container
// of another namespace. The primary container name is derived from the
// namespace alone and is always the namespace's own.
func (d *Driver) claimName(ctx context.Context, namespace, name string) error {
	if name == deployment.ContainerName(d.prefix, namespace) {
		return nil
	}
	info, err := d.docker.InspectContainer(ctx, name)
	if err != nil {
		if isGone(err) {
			return nil
		}
		return err
	}
	if owner := info.Labels[deployment.LabelInstance]; owner != namespace {
		if owner == "" {
			owner = "an unmanaged container"
		}
		return fmt.Errorf("%w: %s is held by %s", domain.ErrNameTaken, name, owner)
	}
	return nil
}

// ensureImage pulls image unless it is present locally.
func (d *Driver) ensureImage(ctx context.Context, image string) error {
	exists, err := d.docker.ImageExists(ctx, image)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	d.logger.Info("pulling image", "image", image)
	return d.docker.PullImage(ctx, image, PullOptions{})
}

func (d *Driver) ensureNetwork(ctx context.Context, namespace, name string) error {
	_, err := d.docker.CreateNetwork(ctx, NetworkSpec{
		Name:   name,
		Labels: deployment.InstanceLabels(namespace),
	})
	if err != nil && !errors.Is(err, ErrNetworkAlreadyExists) {
		return err
	}
	return nil
}

// =============================================================================
// Down / Remove
// =============================================================================

// Down stops and removes every container of the namespace and its network.
// Resources that are already stopped or gone count as success.
func (d *Driver) Down(ctx context.Context, namespace string) error {
	d.logger.Info("stopping service group", "namespace", namespace)

	containers, err := d.namespaceContainers(ctx, namespace)
	if err != nil {
		return err
	}

	var errs []error
	for _, c := range containers {
		if c.Status == ContainerStatusRunning || c.Status == ContainerStatusRestarting {
			if err := d.docker.StopContainer(ctx, c.ID, &d.stopTimeout); err != nil && !isGone(err) {
				d.logger.Warn("failed to stop container", "container", c.Name, "error", err)
			}
		}
		if err := d.docker.RemoveContainer(ctx, c.ID, RemoveOptions{Force: true}); err != nil && !isGone(err) {
			errs = append(errs, err)
		}
	}

	networkName := deployment.NetworkName(namespace)
	if err := d.docker.RemoveNetwork(ctx, networkName); err != nil && !isGone(err) {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	d.logger.Info("service group removed", "namespace", namespace, "containers", len(containers))
	return nil
}

// RemoveVolumes removes the named volumes the namespace's descriptor declares.
// External volumes are left alone. A missing descriptor or volume is not an
// error; a volume still mounted by a container unwraps to ErrVolumeInUse.
func (d *Driver) RemoveVolumes(ctx context.Context, namespace string) error {
	spec, err := d.loadDescriptor(d.workspaces.ResolvePath(namespace))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	var errs []error
	for _, vol := range spec.Volumes {
		if vol.External {
			continue
		}
		name := deployment.VolumeName(d.prefix, namespace, vol.Name)
		err := d.docker.RemoveVolume(ctx, name, false)
		switch {
		case err == nil:
			d.logger.Debug("removed volume", "namespace", namespace, "volume", name)
		case isGone(err):
		default:
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveContainer force-removes a container by name. A missing container is
// not an error.
func (d *Driver) RemoveContainer(ctx context.Context, name string) error {
	err := d.docker.RemoveContainer(ctx, name, RemoveOptions{Force: true})
	if err != nil && !isGone(err) {
		return err
	}
	return nil
}

// =============================================================================
// Restart
// =============================================================================

// Restart restarts every container of the namespace. A namespace without
// containers yields domain.ErrRestart wrapping domain.ErrNotFound.
func (d *Driver) Restart(ctx context.Context, namespace string) error {
	containers, err := d.namespaceContainers(ctx, namespace)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRestart, err)
	}
	if len(containers) == 0 {
		return fmt.Errorf("%w: %w: no service group for %s", domain.ErrRestart, domain.ErrNotFound, namespace)
	}

	for _, c := range containers {
		d.logger.Info("restarting container", "namespace", namespace, "container", c.Name)
		if err := d.docker.RestartContainer(ctx, c.ID, &d.stopTimeout); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrRestart, err)
		}
	}
	return nil
}

// =============================================================================
// Status
// =============================================================================

// ListRunning returns the status of the namespace's containers sorted by
// name. Stopped containers are included.
func (d *Driver) ListRunning(ctx context.Context, namespace string) ([]ServiceStatus, error) {
	containers, err := d.namespaceContainers(ctx, namespace)
	if err != nil {
		return nil, err
	}

	statuses := make([]ServiceStatus, 0, len(containers))
	for _, c := range containers {
		statuses = append(statuses, ServiceStatus{
			Name:    c.Name,
			Service: c.Labels[deployment.LabelService],
			State:   c.Status,
			Status:  c.StatusText,
			Image:   c.Image,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses, nil
}

// =============================================================================
// Logs
// =============================================================================

// StreamLogs follows the logs of every container in the namespace, calling
// sink once per line, until ctx is cancelled or all streams end. tail is the
// number of past lines to replay; a negative tail replays everything.
// Lines of a multi-container namespace are prefixed with the service name.
// Cancellation returns nil.
func (d *Driver) StreamLogs(ctx context.Context, namespace string, tail int, sink func(line string)) error {
	containers, err := d.namespaceContainers(ctx, namespace)
	if err != nil {
		return err
	}
	if len(containers) == 0 {
		return fmt.Errorf("%w: no containers for %s", domain.ErrNotFound, namespace)
	}

	tailOpt := "all"
	if tail >= 0 {
		tailOpt = strconv.Itoa(tail)
	}

	var mu sync.Mutex
	emit := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		sink(line)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range containers {
		prefix := ""
		if len(containers) > 1 {
			prefix = c.Labels[deployment.LabelService] + " | "
		}
		g.Go(func() error {
			rc, err := d.docker.ContainerLogs(gctx, c.ID, LogOptions{Follow: true, Tail: tailOpt})
			if err != nil {
				return err
			}
			return followLines(gctx, rc, func(line string) { emit(prefix + line) })
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// followLines demultiplexes a log stream and splits it into lines.
// rc is closed when ctx is done or the stream ends.
func followLines(ctx context.Context, rc io.ReadCloser, sink func(string)) error {
	defer rc.Close()
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer stop()

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, rc)
		pw.CloseWithError(err)
	}()
	defer pr.Close()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		sink(scanner.Text())
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

// =============================================================================
// Helper Methods
// =============================================================================

func (d *Driver) namespaceContainers(ctx context.Context, namespace string) ([]ContainerInfo, error) {
	return d.docker.ListContainers(ctx, ListOptions{
		All:     true,
		Filters: map[string]string{"label": deployment.InstanceFilter(namespace)},
	})
}

func (d *Driver) loadDescriptor(workspace string) (*compose.ParsedSpec, error) {
	content, err := os.ReadFile(filepath.Join(workspace, deployment.DescriptorFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no descriptor in %s", domain.ErrNotFound, workspace)
		}
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %w", domain.ErrPermission, err)
		}
		return nil, err
	}
	return compose.LoadDescriptor(string(content), workspace)
}

// readEnvFiles merges a service's env files in order; later files win.
func (d *Driver) readEnvFiles(workspace string, files []string) (map[string]string, error) {
	layers := make([]map[string]string, 0, len(files))
	for _, f := range files {
		path := f
		if !filepath.IsAbs(path) {
			path = filepath.Join(workspace, path)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", f, err)
		}
		values, err := deployment.ParseSecretConfig(content)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		layers = append(layers, values)
	}
	return deployment.MergeEnv(layers...), nil
}

// containerSpecFromPlan converts a container plan to the client's spec.
func containerSpecFromPlan(plan deployment.ContainerPlan) ContainerSpec {
	spec := ContainerSpec{
		Name:       plan.Name,
		Image:      plan.Image,
		Command:    plan.Command,
		Entrypoint: plan.Entrypoint,
		Env:        plan.Env,
		Labels:     plan.Labels,
		Networks:   plan.Networks,
		RestartPolicy: RestartPolicy{
			Name:              plan.RestartPolicy.Name,
			MaximumRetryCount: plan.RestartPolicy.MaximumRetryCount,
		},
	}

	if len(plan.Networks) > 0 {
		spec.NetworkAliases = make(map[string][]string, len(plan.Networks))
		for _, n := range plan.Networks {
			spec.NetworkAliases[n] = []string{plan.Service}
		}
	}

	for _, p := range plan.Ports {
		spec.Ports = append(spec.Ports, PortBinding{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}

	for _, v := range plan.Volumes {
		spec.Volumes = append(spec.Volumes, VolumeMount{
			Type:     MountType(v.Type),
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	return spec
}
