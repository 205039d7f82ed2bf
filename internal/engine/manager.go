// Package engine runs the instance lifecycle: install, remove, list, restart,
// logs, status and history. It composes the canonicalizer, the workspace
// store, the descriptor builder and the runtime driver, and owns error
// reporting. It performs no terminal I/O.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/artpar/botctl/internal/core/deployment"
	"github.com/artpar/botctl/internal/core/domain"
	"github.com/artpar/botctl/internal/core/monitoring"
	"github.com/artpar/botctl/internal/shell/docker"
	"github.com/artpar/botctl/internal/shell/store"
	"github.com/artpar/botctl/internal/shell/workspace"
)

// Operation names used in errors and the journal.
const (
	OpInstall = "install"
	OpRemove  = "remove"
	OpList    = "list"
	OpRestart = "restart"
	OpLogs    = "logs"
	OpStatus  = "status"
	OpHistory = "history"
)

// =============================================================================
// Collaborators
// =============================================================================

// Runtime drives the container runtime for one namespace at a time.
// docker.Driver implements it.
type Runtime interface {
	Build(ctx context.Context, namespace, workspace string) error
	Up(ctx context.Context, namespace string) error
	Down(ctx context.Context, namespace string) error
	Restart(ctx context.Context, namespace string) error
	RemoveContainer(ctx context.Context, name string) error
	RemoveVolumes(ctx context.Context, namespace string) error
	StreamLogs(ctx context.Context, namespace string, tail int, sink func(line string)) error
	ListRunning(ctx context.Context, namespace string) ([]docker.ServiceStatus, error)
}

var _ Runtime = (*docker.Driver)(nil)

// Journal records lifecycle operations. store.SQLiteStore implements it.
type Journal interface {
	Record(ctx context.Context, entry store.Entry) (store.Entry, error)
	List(ctx context.Context, opts store.ListOptions) ([]store.Entry, error)
}

var _ Journal = (*store.SQLiteStore)(nil)

// Config holds the settings the manager applies to every instance.
type Config struct {
	Descriptor deployment.DescriptorOptions
	Defaults   domain.InstallInputs // Timezone and MaxBackupMB used when a request leaves them empty
	SourceDir  string               // application bundle copied on install when the request names none
	Entrypoint string               // script started by the default Dockerfile
}

// =============================================================================
// Manager
// =============================================================================

// Manager runs lifecycle operations against the workspace root and runtime.
type Manager struct {
	cfg        Config
	runtime    Runtime
	workspaces *workspace.Store
	journal    Journal
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager creates a new manager. journal may be nil.
func NewManager(cfg Config, runtime Runtime, workspaces *workspace.Store, journal Journal, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Descriptor.Prefix == "" {
		cfg.Descriptor.Prefix = deployment.DefaultPrefix
	}
	if cfg.Entrypoint == "" {
		cfg.Entrypoint = workspace.DefaultEntrypoint
	}
	return &Manager{
		cfg:        cfg,
		runtime:    runtime,
		workspaces: workspaces,
		journal:    journal,
		logger:     logger,
		now:        time.Now,
	}
}

// Root returns the workspace root.
func (m *Manager) Root() string {
	return m.workspaces.Root()
}

// ContainerName returns the primary container name of slug.
func (m *Manager) ContainerName(slug string) string {
	return deployment.ContainerName(m.cfg.Descriptor.Prefix, slug)
}

// =============================================================================
// Install
// =============================================================================

// InstallRequest holds the inputs of an install.
type InstallRequest struct {
	Name      string // raw instance name; canonicalized
	Inputs    domain.InstallInputs
	SourceDir string // overrides Config.SourceDir
	Overwrite bool   // replace an instance configured with a different bot token
}

// InstallResult describes an installed instance.
type InstallResult struct {
	Slug              string
	Workspace         string
	ContainerName     string
	Created           bool // the workspace did not exist before
	DockerfileWritten bool // the default Dockerfile was added
	Services          []docker.ServiceStatus
}

// Install creates or updates an instance and starts it.
// A failing step aborts the install and leaves the workspace in place;
// running Install again is safe.
func (m *Manager) Install(ctx context.Context, req InstallRequest) (result *InstallResult, err error) {
	slug := domain.Canonicalize(req.Name)
	defer m.track(ctx, OpInstall, slug, m.now(), &err)

	if req.Name != slug {
		m.logger.Debug("canonicalized instance name", "name", req.Name, "slug", slug)
	}

	desc, secrets, err := deployment.Build(slug, m.withDefaults(req.Inputs), m.cfg.Descriptor)
	if err != nil {
		return nil, domain.NewStepError(OpInstall, domain.StepValidate, slug, err)
	}

	lock, err := m.workspaces.Lock(slug)
	if err != nil {
		return nil, domain.NewStepError(OpInstall, domain.StepLock, slug, err)
	}
	defer lock.Unlock()

	existed := m.workspaces.Exists(slug)
	if existed && !req.Overwrite {
		if err := m.checkConflict(slug, secrets); err != nil {
			return nil, domain.NewStepError(OpInstall, domain.StepConflictCheck, slug, err)
		}
	}

	dir, err := m.workspaces.Create(slug)
	if err != nil {
		return nil, domain.NewStepError(OpInstall, domain.StepWorkspace, slug, err)
	}

	wroteDockerfile, err := m.installSource(slug, dir, req.SourceDir)
	if err != nil {
		return nil, domain.NewStepError(OpInstall, domain.StepSource, slug, err)
	}

	if err := m.writeArtifacts(slug, desc, secrets); err != nil {
		return nil, domain.NewStepError(OpInstall, domain.StepDescriptor, slug, err)
	}

	m.logger.Info("building instance", "slug", slug, "workspace", dir)
	if err := m.runtime.Build(ctx, slug, dir); err != nil {
		return nil, domain.NewStepError(OpInstall, domain.StepBuild, slug, err)
	}

	if err := m.runtime.Up(ctx, slug); err != nil {
		return nil, domain.NewStepError(OpInstall, domain.StepUp, slug, err)
	}

	result = &InstallResult{
		Slug:              slug,
		Workspace:         dir,
		ContainerName:     m.ContainerName(slug),
		Created:           !existed,
		DockerfileWritten: wroteDockerfile,
	}
	result.Services = m.verify(ctx, OpInstall, slug)

	m.logger.Info("instance installed", "slug", slug, "created", result.Created)
	return result, nil
}

func (m *Manager) withDefaults(in domain.InstallInputs) domain.InstallInputs {
	if in.Timezone == "" {
		in.Timezone = m.cfg.Defaults.Timezone
	}
	if in.MaxBackupMB == 0 {
		in.MaxBackupMB = m.cfg.Defaults.MaxBackupMB
	}
	return in.WithDefaults()
}

// checkConflict fails when the existing instance runs a different bot.
func (m *Manager) checkConflict(slug string, secrets deployment.SecretConfig) error {
	content, err := m.workspaces.ReadFile(slug, deployment.SecretFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	current, err := deployment.ParseSecretConfig(content)
	if err != nil {
		return err
	}
	newToken, _ := secrets.Get(deployment.EnvBotToken)
	if old := current[deployment.EnvBotToken]; old != "" && old != newToken {
		return fmt.Errorf("%w: %s (use overwrite to replace it)", domain.ErrConflict, slug)
	}
	return nil
}

// installSource copies the application bundle and makes sure a Dockerfile exists.
func (m *Manager) installSource(slug, dir, srcDir string) (bool, error) {
	if srcDir == "" {
		srcDir = m.cfg.SourceDir
	}
	if srcDir != "" {
		if err := m.workspaces.CopySource(slug, srcDir); err != nil {
			return false, err
		}
	} else if _, err := os.Stat(filepath.Join(dir, m.cfg.Entrypoint)); err != nil {
		return false, fmt.Errorf("%w: no application source given and %s has no %s", domain.ErrInput, dir, m.cfg.Entrypoint)
	}
	return m.workspaces.EnsureDockerfile(slug, m.cfg.Entrypoint)
}

// writeArtifacts writes the secret file and descriptor. Both writes are
// atomic renames, so a build never sees a partial file.
func (m *Manager) writeArtifacts(slug string, desc deployment.Descriptor, secrets deployment.SecretConfig) error {
	if err := m.workspaces.WriteFile(slug, deployment.SecretFile, secrets.Render(), deployment.SecretFileMode); err != nil {
		return err
	}
	content, err := desc.Marshal()
	if err != nil {
		return err
	}
	return m.workspaces.WriteFile(slug, deployment.DescriptorFile, content, deployment.DescriptorFileMode)
}

// =============================================================================
// Remove
// =============================================================================

// Remove tears down an instance after confirmation. confirm must repeat
// the slug or be an explicit yes; anything else aborts without changes.
// Runtime cleanup failures are logged; deleting the workspace decides success.
func (m *Manager) Remove(ctx context.Context, name, confirm string) (err error) {
	slug := domain.Canonicalize(name)
	defer m.track(ctx, OpRemove, slug, m.now(), &err)

	if err := m.requireInstance(OpRemove, slug); err != nil {
		return err
	}

	if !domain.ConfirmsRemoval(confirm, slug) {
		return domain.NewStepError(OpRemove, domain.StepConfirm, slug, domain.ErrConfirmationAborted)
	}

	lock, err := m.workspaces.Lock(slug)
	if err != nil {
		return domain.NewStepError(OpRemove, domain.StepLock, slug, err)
	}
	defer lock.Unlock()

	if err := m.runtime.Down(ctx, slug); err != nil {
		m.logger.Warn("stopping service group failed", "slug", slug, "step", domain.StepDown, "error", err)
	}
	if err := m.runtime.RemoveContainer(ctx, m.ContainerName(slug)); err != nil {
		m.logger.Warn("force removing container failed", "slug", slug, "step", domain.StepForceRemove, "error", err)
	}
	// Volumes are declared in the descriptor, so they go before the workspace.
	if err := m.runtime.RemoveVolumes(ctx, slug); err != nil {
		m.logger.Warn("removing volumes failed", "slug", slug, "step", domain.StepVolumes, "error", err)
	}

	if err := m.workspaces.Destroy(slug); err != nil {
		return domain.NewStepError(OpRemove, domain.StepDelete, slug, err)
	}

	m.logger.Info("instance removed", "slug", slug)
	return nil
}

// =============================================================================
// List / Status
// =============================================================================

// Instance states reported by List and Status.
const (
	StateRunning     = monitoring.StateRunning
	StateDegraded    = monitoring.StateDegraded
	StateStopped     = monitoring.StateStopped
	StateNotDeployed = monitoring.StateNotDeployed
	StateUnknown     = monitoring.StateUnknown
)

// InstanceSummary describes one instance.
type InstanceSummary struct {
	Slug          string
	Workspace     string
	ContainerName string
	State         string
	Services      []docker.ServiceStatus
}

// List returns every instance in the workspace root, sorted by slug.
// Runtime state is best effort. An unreadable root is returned as an error
// together with an empty list.
func (m *Manager) List(ctx context.Context) ([]InstanceSummary, error) {
	slugs, err := m.workspaces.List()
	if err != nil {
		m.logger.Warn("enumerating workspaces failed", "root", m.Root(), "error", err)
		return []InstanceSummary{}, domain.NewStepError(OpList, domain.StepEnumerate, "", err)
	}

	summaries := make([]InstanceSummary, 0, len(slugs))
	for _, slug := range slugs {
		summaries = append(summaries, m.summarize(ctx, slug))
	}
	return summaries, nil
}

// Status returns the summary of one instance.
func (m *Manager) Status(ctx context.Context, name string) (InstanceSummary, error) {
	slug := domain.Canonicalize(name)
	if err := m.requireInstance(OpStatus, slug); err != nil {
		return InstanceSummary{}, err
	}
	return m.summarize(ctx, slug), nil
}

func (m *Manager) summarize(ctx context.Context, slug string) InstanceSummary {
	summary := InstanceSummary{
		Slug:          slug,
		Workspace:     m.workspaces.ResolvePath(slug),
		ContainerName: m.ContainerName(slug),
		State:         StateUnknown,
	}

	services, err := m.runtime.ListRunning(ctx, slug)
	if err != nil {
		m.logger.Debug("runtime status unavailable", "slug", slug, "error", err)
		return summary
	}
	summary.Services = services
	summary.State = monitoring.AggregateState(containerStates(services))
	return summary
}

func containerStates(services []docker.ServiceStatus) []string {
	states := make([]string, len(services))
	for i, s := range services {
		states[i] = string(s.State)
	}
	return states
}

// =============================================================================
// Restart
// =============================================================================

// Restart restarts the service group of an instance.
func (m *Manager) Restart(ctx context.Context, name string) (services []docker.ServiceStatus, err error) {
	slug := domain.Canonicalize(name)
	defer m.track(ctx, OpRestart, slug, m.now(), &err)

	if err := m.requireInstance(OpRestart, slug); err != nil {
		return nil, err
	}

	lock, err := m.workspaces.Lock(slug)
	if err != nil {
		return nil, domain.NewStepError(OpRestart, domain.StepLock, slug, err)
	}
	defer lock.Unlock()

	if err := m.runtime.Restart(ctx, slug); err != nil {
		return nil, domain.NewStepError(OpRestart, domain.StepRestart, slug, err)
	}

	m.logger.Info("instance restarted", "slug", slug)
	return m.verify(ctx, OpRestart, slug), nil
}

// =============================================================================
// Logs
// =============================================================================

// Logs follows the logs of an instance until ctx is cancelled.
func (m *Manager) Logs(ctx context.Context, name string, tail int, sink func(line string)) error {
	slug := domain.Canonicalize(name)
	if err := m.requireInstance(OpLogs, slug); err != nil {
		return err
	}
	if err := m.runtime.StreamLogs(ctx, slug, tail, sink); err != nil {
		return domain.NewStepError(OpLogs, domain.StepLogs, slug, err)
	}
	return nil
}

// =============================================================================
// History
// =============================================================================

// History returns journaled operations newest first. An empty name returns
// all instances. Without a journal the history is empty.
func (m *Manager) History(ctx context.Context, name string, limit int) ([]store.Entry, error) {
	if m.journal == nil {
		return []store.Entry{}, nil
	}
	opts := store.ListOptions{Limit: limit}
	if name != "" {
		opts.Slug = domain.Canonicalize(name)
	}
	entries, err := m.journal.List(ctx, opts)
	if err != nil {
		return nil, domain.NewStepError(OpHistory, domain.StepEnumerate, opts.Slug, err)
	}
	return entries, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (m *Manager) requireInstance(op, slug string) error {
	if !m.workspaces.Exists(slug) {
		return domain.NewStepError(op, domain.StepSelect, slug,
			fmt.Errorf("%w: no workspace %s", domain.ErrNotFound, m.workspaces.ResolvePath(slug)))
	}
	return nil
}

// verify reads the service status after an operation. It only informs the
// operator, so failures are logged and yield no services.
func (m *Manager) verify(ctx context.Context, op, slug string) []docker.ServiceStatus {
	services, err := m.runtime.ListRunning(ctx, slug)
	if err != nil {
		m.logger.Warn("verifying service status failed", "op", op, "slug", slug, "step", domain.StepVerify, "error", err)
		return nil
	}
	if state := monitoring.AggregateState(containerStates(services)); !monitoring.Healthy(state) {
		for _, s := range services {
			if !s.Running() {
				m.logger.Warn("service not running", "op", op, "slug", slug, "service", s.Service, "state", s.State)
			}
		}
		m.logger.Warn("instance is not fully running", "op", op, "slug", slug, "state", state)
	}
	return services
}

// track journals a finished operation. Journal failures are logged only.
func (m *Manager) track(ctx context.Context, op, slug string, started time.Time, errp *error) {
	if m.journal == nil {
		return
	}
	entry := store.Entry{
		Slug:      slug,
		Operation: op,
		Outcome:   store.OutcomeOK,
		StartedAt: started,
		Duration:  m.now().Sub(started),
	}
	if err := *errp; err != nil {
		entry.Outcome = store.OutcomeFailed
		if errors.Is(err, domain.ErrConfirmationAborted) {
			entry.Outcome = store.OutcomeAborted
		}
		entry.Step = domain.FailedStep(err)
		entry.Message = err.Error()
	}
	// The operation's context may already be cancelled.
	if _, err := m.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		m.logger.Warn("journal write failed", "op", op, "slug", slug, "error", err)
	}
}
