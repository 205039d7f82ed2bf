package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/botctl/internal/core/deployment"
	"github.com/artpar/botctl/internal/core/domain"
	"github.com/artpar/botctl/internal/shell/workspace"
)

// =============================================================================
// Fake Client
// =============================================================================

type fakeClient struct {
	mu sync.Mutex

	calls      []string
	containers []ContainerInfo
	builds     []BuildOptions
	buildDirs  []string
	created    []ContainerSpec
	networks   []NetworkSpec

	buildErr   error
	createErr  error
	networkErr error
	removeErr  error
	restartErr error
	volumeErr  error

	// logs returns the log stream of a container; nil means an empty stream.
	logs func(id string) io.ReadCloser
}

var _ Client = (*fakeClient)(nil)

func (f *fakeClient) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeClient) CreateContainer(_ context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create %s", spec.Name)
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, spec)
	return "id-" + spec.Name, nil
}

func (f *fakeClient) StartContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start %s", id)
	return nil
}

func (f *fakeClient) StopContainer(_ context.Context, id string, _ *time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop %s", id)
	return nil
}

func (f *fakeClient) RestartContainer(_ context.Context, id string, _ *time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("restart %s", id)
	return f.restartErr
}

func (f *fakeClient) RemoveContainer(_ context.Context, id string, opts RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove %s force=%t", id, opts.Force)
	return f.removeErr
}

func (f *fakeClient) InspectContainer(_ context.Context, id string) (*ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.ID == id || c.Name == id {
			info := c
			return &info, nil
		}
	}
	return nil, NewDockerError("InspectContainer", "container", id, "container not found", ErrContainerNotFound)
}

func (f *fakeClient) ListContainers(_ context.Context, opts ListOptions) ([]ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ContainerInfo
	for _, c := range f.containers {
		if matchesLabel(c.Labels, opts.Filters["label"]) {
			out = append(out, c)
		}
	}
	return out, nil
}

func matchesLabel(labels map[string]string, filter string) bool {
	if filter == "" {
		return true
	}
	k, v, _ := strings.Cut(filter, "=")
	return labels[k] == v
}

func (f *fakeClient) ContainerLogs(_ context.Context, id string, opts LogOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("logs %s tail=%s follow=%t", id, opts.Tail, opts.Follow)
	if f.logs == nil {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return f.logs(id), nil
}

func (f *fakeClient) CreateNetwork(_ context.Context, spec NetworkSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("network-create %s", spec.Name)
	if f.networkErr != nil {
		return "", f.networkErr
	}
	f.networks = append(f.networks, spec)
	return "net-" + spec.Name, nil
}

func (f *fakeClient) RemoveNetwork(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("network-remove %s", id)
	return NewDockerError("RemoveNetwork", "network", id, "network not found", ErrNetworkNotFound)
}

func (f *fakeClient) CreateVolume(_ context.Context, spec VolumeSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("volume-create %s", spec.Name)
	return spec.Name, nil
}

func (f *fakeClient) RemoveVolume(_ context.Context, name string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("volume-remove %s", name)
	return f.volumeErr
}

func (f *fakeClient) BuildImage(_ context.Context, contextDir string, opts BuildOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("build %s", opts.Tag)
	f.buildDirs = append(f.buildDirs, contextDir)
	f.builds = append(f.builds, opts)
	return f.buildErr
}

func (f *fakeClient) PullImage(_ context.Context, image string, _ PullOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pull %s", image)
	return nil
}

func (f *fakeClient) ImageExists(_ context.Context, image string) (bool, error) {
	return false, nil
}

func (f *fakeClient) Ping(context.Context) error { return nil }
func (f *fakeClient) Close() error               { return nil }

func (f *fakeClient) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// =============================================================================
// Test Helpers
// =============================================================================

const testToken = "123456:ABC-def_ghi"

// newInstance writes the descriptor and secret file of slug into a fresh
// workspace root.
func newInstance(t *testing.T, slug string) *workspace.Store {
	t.Helper()
	store, err := workspace.NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Create(slug)
	require.NoError(t, err)

	desc, secrets, err := deployment.Build(slug, domain.InstallInputs{
		BotToken:     testToken,
		AdminChatIDs: "42",
	}, deployment.DefaultDescriptorOptions())
	require.NoError(t, err)

	content, err := desc.Marshal()
	require.NoError(t, err)
	require.NoError(t, store.WriteFile(slug, deployment.DescriptorFile, content, deployment.DescriptorFileMode))
	require.NoError(t, store.WriteFile(slug, deployment.SecretFile, secrets.Render(), deployment.SecretFileMode))
	return store
}

// newDescriptorInstance creates the workspace of slug with a hand-written
// descriptor and no secret file.
func newDescriptorInstance(t *testing.T, slug, descriptor string) *workspace.Store {
	t.Helper()
	store, err := workspace.NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Create(slug)
	require.NoError(t, err)
	require.NoError(t, store.WriteFile(slug, deployment.DescriptorFile, []byte(descriptor), deployment.DescriptorFileMode))
	return store
}

const sidecarDescriptor = `
services:
  bot:
    image: telegram-bot:a
    container_name: telegram-bot-a
    volumes:
      - cache:/data
      - shared:/shared
  cache:
    image: redis:7
volumes:
  cache: {}
  shared:
    external: true
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDriver(cli Client, store WorkspaceResolver) *Driver {
	return NewDriver(cli, store, DriverOptions{Logger: testLogger()})
}

func botContainer(slug, status string) ContainerInfo {
	labels := deployment.InstanceLabels(slug)
	labels[deployment.LabelService] = "bot"
	name := deployment.ContainerName(deployment.DefaultPrefix, slug)
	return ContainerInfo{
		ID:         "id-" + name,
		Name:       name,
		Image:      deployment.ImageName(deployment.DefaultPrefix, slug),
		Status:     ContainerStatus(status),
		StatusText: "Up 2 minutes",
		Labels:     labels,
	}
}

// muxStream encodes lines as a stdout-multiplexed log stream.
func muxStream(t *testing.T, lines ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	for _, l := range lines {
		_, err := w.Write([]byte(l + "\n"))
		require.NoError(t, err)
	}
	return buf.Bytes()
}

// =============================================================================
// Build Tests
// =============================================================================

func TestDriver_Build_TagsDescriptorImage(t *testing.T) {
	store := newInstance(t, "shop")
	cli := &fakeClient{}
	d := newTestDriver(cli, store)

	require.NoError(t, d.Build(context.Background(), "shop", store.ResolvePath("shop")))

	require.Len(t, cli.builds, 1)
	assert.Equal(t, "telegram-bot:shop", cli.builds[0].Tag)
	assert.Equal(t, filepath.Clean(store.ResolvePath("shop")), filepath.Clean(cli.buildDirs[0]))
	assert.Contains(t, cli.builds[0].Excludes, deployment.SecretFile)
	assert.Contains(t, cli.builds[0].Excludes, deployment.DataDir)
	assert.Equal(t, "shop", cli.builds[0].Labels[deployment.LabelInstance])
}

func TestDriver_Build_FailureKeepsDaemonMessage(t *testing.T) {
	store := newInstance(t, "shop")
	cli := &fakeClient{
		buildErr: NewDockerError("BuildImage", "image", "telegram-bot:shop",
			"pip install returned a non-zero code: 1", ErrImageBuildFailed),
	}
	d := newTestDriver(cli, store)

	err := d.Build(context.Background(), "shop", store.ResolvePath("shop"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBuild)
	assert.ErrorIs(t, err, ErrImageBuildFailed)
	assert.Contains(t, err.Error(), "pip install returned a non-zero code: 1")
}

func TestDriver_Build_MissingDescriptor(t *testing.T) {
	store, err := workspace.NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Create("shop")
	require.NoError(t, err)

	cli := &fakeClient{}
	err = newTestDriver(cli, store).Build(context.Background(), "shop", store.ResolvePath("shop"))
	assert.ErrorIs(t, err, domain.ErrBuild)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, cli.builds)
}

// =============================================================================
// Up Tests
// =============================================================================

func TestDriver_Up_CreatesAndStartsBot(t *testing.T) {
	store := newInstance(t, "shop")
	cli := &fakeClient{}
	d := newTestDriver(cli, store)

	require.NoError(t, d.Up(context.Background(), "shop"))

	assert.Equal(t, []string{
		"network-create shop_default",
		"remove telegram-bot-shop force=true",
		"create telegram-bot-shop",
		"start id-telegram-bot-shop",
	}, cli.callLog())

	require.Len(t, cli.created, 1)
	spec := cli.created[0]
	assert.Equal(t, "telegram-bot:shop", spec.Image)
	assert.Equal(t, testToken, spec.Env["BOT_TOKEN"])
	assert.Equal(t, "42", spec.Env["ADMIN_CHAT_ID"])
	assert.Equal(t, domain.DefaultTimezone, spec.Env["TZ"])
	assert.Equal(t, "/app/data/data.db", spec.Env["DB_PATH"])
	assert.Equal(t, "unless-stopped", spec.RestartPolicy.Name)
	assert.Equal(t, []string{"shop_default"}, spec.Networks)
	assert.Equal(t, []string{"bot"}, spec.NetworkAliases["shop_default"])
	assert.Equal(t, "true", spec.Labels[deployment.LabelManaged])
	assert.Equal(t, "shop", spec.Labels[deployment.LabelInstance])
	assert.Equal(t, "bot", spec.Labels[deployment.LabelService])

	require.Len(t, spec.Volumes, 1)
	assert.Equal(t, MountTypeBind, spec.Volumes[0].Type)
	assert.Equal(t, filepath.Join(store.ResolvePath("shop"), "data"), spec.Volumes[0].Source)
	assert.Equal(t, "/app/data", spec.Volumes[0].Target)
}

func TestDriver_Up_ReusesExistingNetwork(t *testing.T) {
	store := newInstance(t, "shop")
	cli := &fakeClient{
		networkErr: NewDockerError("CreateNetwork", "network", "shop_default", "network already exists", ErrNetworkAlreadyExists),
	}
	require.NoError(t, newTestDriver(cli, store).Up(context.Background(), "shop"))
	assert.Len(t, cli.created, 1)
}

func TestDriver_Up_CreateFailure(t *testing.T) {
	store := newInstance(t, "shop")
	cli := &fakeClient{createErr: errors.New("no such image")}

	err := newTestDriver(cli, store).Up(context.Background(), "shop")
	assert.ErrorIs(t, err, domain.ErrStart)
	assert.Contains(t, err.Error(), "no such image")
}

func TestDriver_Up_NetworkFailure(t *testing.T) {
	store := newInstance(t, "shop")
	cli := &fakeClient{networkErr: errors.New("daemon unavailable")}

	err := newTestDriver(cli, store).Up(context.Background(), "shop")
	assert.ErrorIs(t, err, domain.ErrStart)
	assert.Empty(t, cli.created)
}

func TestDriver_Up_MissingEnvFile(t *testing.T) {
	store := newInstance(t, "shop")
	require.NoError(t, removeFile(store, "shop", deployment.SecretFile))

	err := newTestDriver(&fakeClient{}, store).Up(context.Background(), "shop")
	assert.ErrorIs(t, err, domain.ErrStart)
}

func TestDriver_Up_ScopesSidecarAndVolumeNames(t *testing.T) {
	store := newDescriptorInstance(t, "a", sidecarDescriptor)
	// Instance "a-cache" owns the name a naive "<prefix>-<slug>-<service>"
	// scheme would give the cache sidecar of "a".
	cli := &fakeClient{containers: []ContainerInfo{botContainer("a-cache", "running")}}

	require.NoError(t, newTestDriver(cli, store).Up(context.Background(), "a"))

	calls := cli.callLog()
	assert.Contains(t, calls, "volume-create telegram-bot_1_a_cache")
	assert.NotContains(t, calls, "volume-create telegram-bot_1_a_shared")
	assert.Contains(t, calls, "create telegram-bot_1_a_cache")
	assert.NotContains(t, calls, "remove telegram-bot-a-cache force=true")
	assert.NotContains(t, calls, "remove id-telegram-bot-a-cache force=true")

	require.Len(t, cli.created, 2)
	bot := cli.created[0]
	require.Len(t, bot.Volumes, 2)
	assert.Equal(t, "telegram-bot_1_a_cache", bot.Volumes[0].Source)
	assert.Equal(t, "shared", bot.Volumes[1].Source)
}

func TestDriver_Up_RefusesNameOwnedByAnotherInstance(t *testing.T) {
	store := newDescriptorInstance(t, "a", `
services:
  bot:
    image: telegram-bot:a
    container_name: telegram-bot-other
`)
	cli := &fakeClient{containers: []ContainerInfo{botContainer("other", "running")}}

	err := newTestDriver(cli, store).Up(context.Background(), "a")
	assert.ErrorIs(t, err, domain.ErrStart)
	assert.ErrorIs(t, err, domain.ErrNameTaken)
	assert.Contains(t, err.Error(), "held by other")
	assert.NotContains(t, cli.callLog(), "remove telegram-bot-other force=true")
	assert.Empty(t, cli.created)
}

func TestDriver_Up_RefusesUnmanagedContainer(t *testing.T) {
	store := newDescriptorInstance(t, "a", `
services:
  bot:
    image: telegram-bot:a
  db:
    image: postgres:16
    container_name: postgres
`)
	cli := &fakeClient{containers: []ContainerInfo{{ID: "id-postgres", Name: "postgres", Status: ContainerStatusRunning}}}

	err := newTestDriver(cli, store).Up(context.Background(), "a")
	assert.ErrorIs(t, err, domain.ErrNameTaken)
	assert.Contains(t, err.Error(), "unmanaged")
	assert.NotContains(t, cli.callLog(), "remove postgres force=true")
}

func TestDriver_Up_ReplacesOwnServiceContainer(t *testing.T) {
	store := newDescriptorInstance(t, "a", sidecarDescriptor)
	own := botContainer("a", "running")
	own.ID = "id-cache"
	own.Name = deployment.ServiceContainerName(deployment.DefaultPrefix, "a", "cache")
	own.Labels[deployment.LabelService] = "cache"
	cli := &fakeClient{containers: []ContainerInfo{own}}

	require.NoError(t, newTestDriver(cli, store).Up(context.Background(), "a"))
	assert.Contains(t, cli.callLog(), "remove telegram-bot_1_a_cache force=true")
}

func removeFile(store *workspace.Store, slug, name string) error {
	return os.Remove(filepath.Join(store.ResolvePath(slug), name))
}

// =============================================================================
// Down Tests
// =============================================================================

func TestDriver_Down_RemovesOnlyNamespace(t *testing.T) {
	cli := &fakeClient{containers: []ContainerInfo{
		botContainer("shop", "running"),
		botContainer("other", "running"),
	}}
	d := newTestDriver(cli, nil)

	require.NoError(t, d.Down(context.Background(), "shop"))

	assert.Equal(t, []string{
		"stop id-telegram-bot-shop",
		"remove id-telegram-bot-shop force=true",
		"network-remove shop_default",
	}, cli.callLog())
}

func TestDriver_Down_AlreadyGone(t *testing.T) {
	cli := &fakeClient{
		containers: []ContainerInfo{botContainer("shop", "exited")},
		removeErr:  NewDockerError("RemoveContainer", "container", "x", "container not found", ErrContainerNotFound),
	}
	assert.NoError(t, newTestDriver(cli, nil).Down(context.Background(), "shop"))
	assert.NotContains(t, cli.callLog(), "stop id-telegram-bot-shop")
}

func TestDriver_Down_RemoveFailure(t *testing.T) {
	cli := &fakeClient{
		containers: []ContainerInfo{botContainer("shop", "exited")},
		removeErr:  errors.New("device busy"),
	}
	err := newTestDriver(cli, nil).Down(context.Background(), "shop")
	assert.ErrorContains(t, err, "device busy")
}

func TestDriver_RemoveVolumes(t *testing.T) {
	store := newDescriptorInstance(t, "a", sidecarDescriptor)
	cli := &fakeClient{}
	d := newTestDriver(cli, store)

	require.NoError(t, d.Up(context.Background(), "a"))
	require.NoError(t, d.Down(context.Background(), "a"))
	require.NoError(t, d.RemoveVolumes(context.Background(), "a"))

	calls := cli.callLog()
	assert.Equal(t, "volume-remove telegram-bot_1_a_cache", calls[len(calls)-1])
	assert.NotContains(t, calls, "volume-remove telegram-bot_1_a_shared")
}

func TestDriver_RemoveVolumes_AlreadyGone(t *testing.T) {
	store := newDescriptorInstance(t, "a", sidecarDescriptor)
	cli := &fakeClient{
		volumeErr: NewDockerError("RemoveVolume", "volume", "x", "volume not found", ErrVolumeNotFound),
	}
	assert.NoError(t, newTestDriver(cli, store).RemoveVolumes(context.Background(), "a"))
}

func TestDriver_RemoveVolumes_InUse(t *testing.T) {
	store := newDescriptorInstance(t, "a", sidecarDescriptor)
	cli := &fakeClient{
		volumeErr: NewDockerError("RemoveVolume", "volume", "x", "volume is in use", ErrVolumeInUse),
	}
	err := newTestDriver(cli, store).RemoveVolumes(context.Background(), "a")
	assert.ErrorIs(t, err, ErrVolumeInUse)
}

func TestDriver_RemoveVolumes_NoDescriptor(t *testing.T) {
	store, err := workspace.NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Create("a")
	require.NoError(t, err)

	cli := &fakeClient{}
	require.NoError(t, newTestDriver(cli, store).RemoveVolumes(context.Background(), "a"))
	assert.Empty(t, cli.callLog())
}

func TestDriver_RemoveContainer_NotFoundIsSuccess(t *testing.T) {
	cli := &fakeClient{
		removeErr: NewDockerError("RemoveContainer", "container", "x", "container not found", ErrContainerNotFound),
	}
	assert.NoError(t, newTestDriver(cli, nil).RemoveContainer(context.Background(), "telegram-bot-shop"))
	assert.Equal(t, []string{"remove telegram-bot-shop force=true"}, cli.callLog())
}

// =============================================================================
// Restart Tests
// =============================================================================

func TestDriver_Restart(t *testing.T) {
	cli := &fakeClient{containers: []ContainerInfo{botContainer("shop", "running")}}
	require.NoError(t, newTestDriver(cli, nil).Restart(context.Background(), "shop"))
	assert.Equal(t, []string{"restart id-telegram-bot-shop"}, cli.callLog())
}

func TestDriver_Restart_NoServiceGroup(t *testing.T) {
	cli := &fakeClient{containers: []ContainerInfo{botContainer("other", "running")}}
	err := newTestDriver(cli, nil).Restart(context.Background(), "shop")
	assert.ErrorIs(t, err, domain.ErrRestart)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, cli.callLog())
}

func TestDriver_Restart_Failure(t *testing.T) {
	cli := &fakeClient{
		containers: []ContainerInfo{botContainer("shop", "exited")},
		restartErr: errors.New("cannot restart"),
	}
	err := newTestDriver(cli, nil).Restart(context.Background(), "shop")
	assert.ErrorIs(t, err, domain.ErrRestart)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

// =============================================================================
// ListRunning Tests
// =============================================================================

func TestDriver_ListRunning(t *testing.T) {
	worker := botContainer("shop", "exited")
	worker.ID = "id-worker"
	worker.Name = "telegram-bot_4_shop_worker"
	worker.Labels[deployment.LabelService] = "worker"

	cli := &fakeClient{containers: []ContainerInfo{worker, botContainer("shop", "running"), botContainer("other", "running")}}

	statuses, err := newTestDriver(cli, nil).ListRunning(context.Background(), "shop")
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	assert.Equal(t, "telegram-bot-shop", statuses[0].Name)
	assert.Equal(t, "bot", statuses[0].Service)
	assert.True(t, statuses[0].Running())
	assert.Equal(t, "Up 2 minutes", statuses[0].Status)

	assert.Equal(t, "worker", statuses[1].Service)
	assert.False(t, statuses[1].Running())
}

// =============================================================================
// StreamLogs Tests
// =============================================================================

func TestDriver_StreamLogs_DeliversLines(t *testing.T) {
	cli := &fakeClient{
		containers: []ContainerInfo{botContainer("shop", "running"), botContainer("other", "running")},
	}
	stream := muxStream(t, "bot started", "polling")
	cli.logs = func(id string) io.ReadCloser {
		return io.NopCloser(bytes.NewReader(stream))
	}

	var lines []string
	err := newTestDriver(cli, nil).StreamLogs(context.Background(), "shop", 50, func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bot started", "polling"}, lines)
	assert.Equal(t, []string{"logs id-telegram-bot-shop tail=50 follow=true"}, cli.callLog())
}

func TestDriver_StreamLogs_NegativeTailReplaysAll(t *testing.T) {
	cli := &fakeClient{containers: []ContainerInfo{botContainer("shop", "running")}}
	require.NoError(t, newTestDriver(cli, nil).StreamLogs(context.Background(), "shop", -1, func(string) {}))
	assert.Equal(t, []string{"logs id-telegram-bot-shop tail=all follow=true"}, cli.callLog())
}

func TestDriver_StreamLogs_NoContainers(t *testing.T) {
	cli := &fakeClient{}
	err := newTestDriver(cli, nil).StreamLogs(context.Background(), "shop", 10, func(string) {})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDriver_StreamLogs_CancelStopsStream(t *testing.T) {
	pr, pw := io.Pipe()
	cli := &fakeClient{containers: []ContainerInfo{botContainer("shop", "running")}}
	cli.logs = func(string) io.ReadCloser { return pr }

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 1)

	done := make(chan error, 1)
	go func() {
		done <- newTestDriver(cli, nil).StreamLogs(ctx, "shop", 10, func(line string) {
			got <- line
		})
	}()

	first := muxStream(t, "first line")
	go func() {
		_, _ = pw.Write(first)
	}()

	select {
	case line := <-got:
		assert.Equal(t, "first line", line)
	case <-time.After(5 * time.Second):
		t.Fatal("no log line delivered")
	}

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}

	// The stream was closed, so writers see a closed pipe.
	_, err := pw.Write([]byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestDriver_StreamLogs_PrefixesMultipleServices(t *testing.T) {
	worker := botContainer("shop", "running")
	worker.ID = "id-worker"
	worker.Labels[deployment.LabelService] = "worker"

	cli := &fakeClient{containers: []ContainerInfo{botContainer("shop", "running"), worker}}
	cli.logs = func(id string) io.ReadCloser {
		return io.NopCloser(bytes.NewReader(muxStream(t, "hello from "+id)))
	}

	var mu sync.Mutex
	var lines []string
	err := newTestDriver(cli, nil).StreamLogs(context.Background(), "shop", 10, func(line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"bot | hello from id-telegram-bot-shop",
		"worker | hello from id-worker",
	}, lines)
}

// =============================================================================
// Spec Conversion Tests
// =============================================================================

func TestContainerSpecFromPlan(t *testing.T) {
	plan := deployment.ContainerPlan{
		Service:  "bot",
		Name:     "telegram-bot-shop",
		Image:    "telegram-bot:shop",
		Env:      map[string]string{"TZ": "UTC"},
		Labels:   map[string]string{"a": "b"},
		Networks: []string{"shop_default"},
		Ports: []deployment.PortPlan{
			{ContainerPort: 8443, HostPort: 8443, Protocol: "tcp"},
		},
		Volumes: []deployment.VolumePlan{
			{Type: "bind", Source: "/opt/telegram-bots/shop/data", Target: "/app/data"},
		},
		RestartPolicy: deployment.RestartPolicyPlan{Name: "unless-stopped"},
	}

	spec := containerSpecFromPlan(plan)
	assert.Equal(t, "telegram-bot-shop", spec.Name)
	assert.Equal(t, []string{"bot"}, spec.NetworkAliases["shop_default"])
	assert.Equal(t, []PortBinding{{ContainerPort: 8443, HostPort: 8443, Protocol: "tcp"}}, spec.Ports)
	assert.Equal(t, MountTypeBind, spec.Volumes[0].Type)
	assert.Equal(t, "unless-stopped", spec.RestartPolicy.Name)
}
