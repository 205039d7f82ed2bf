package deployment

import (
	"bytes"
	"fmt"
	"path"
	"strconv"

	"github.com/artpar/botctl/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Workspace File Layout
// =============================================================================

const (
	// DescriptorFile is the orchestration descriptor inside a workspace.
	DescriptorFile = "docker-compose.yml"

	// SecretFile is the secret/config file inside a workspace.
	SecretFile = ".env"

	// DataDir is the persisted data directory inside a workspace.
	DataDir = "data"

	// SecretFileMode restricts the secret file to its owner.
	SecretFileMode = 0o600

	// DescriptorFileMode is the mode of the descriptor file.
	DescriptorFileMode = 0o644
)

// Keys of the secret/config file, in the order they are written.
const (
	EnvBotToken    = "BOT_TOKEN"
	EnvAdminChatID = "ADMIN_CHAT_ID"
	EnvTimezone    = "TZ"
	EnvDBPath      = "DB_PATH"
	EnvBackupSrc   = "BACKUP_SRC"
	EnvMaxBackupMB = "MAX_BACKUP_MB"
)

// =============================================================================
// Descriptor Options
// =============================================================================

// DescriptorOptions holds the settings shared by every instance descriptor.
type DescriptorOptions struct {
	Prefix           string // image repository and container name prefix
	ServiceName      string // compose service name of the bot
	ContainerDataDir string // data mount point inside the container
	DBFile           string // database file name under ContainerDataDir
	BackupSrc        string // directory the bot archives for backups
}

// DefaultDescriptorOptions returns the options used when none are configured.
func DefaultDescriptorOptions() DescriptorOptions {
	return DescriptorOptions{
		Prefix:           DefaultPrefix,
		ServiceName:      "bot",
		ContainerDataDir: "/app/data",
		DBFile:           "data.db",
		BackupSrc:        "/app",
	}
}

func (o DescriptorOptions) withDefaults() DescriptorOptions {
	d := DefaultDescriptorOptions()
	if o.Prefix == "" {
		o.Prefix = d.Prefix
	}
	if o.ServiceName == "" {
		o.ServiceName = d.ServiceName
	}
	if o.ContainerDataDir == "" {
		o.ContainerDataDir = d.ContainerDataDir
	}
	if o.DBFile == "" {
		o.DBFile = d.DBFile
	}
	if o.BackupSrc == "" {
		o.BackupSrc = d.BackupSrc
	}
	return o
}

// DBPath returns the database path as seen by the bot.
func (o DescriptorOptions) DBPath() string {
	o = o.withDefaults()
	return path.Join(o.ContainerDataDir, o.DBFile)
}

// =============================================================================
// Descriptor
// =============================================================================

// Descriptor is the orchestration descriptor of one instance.
type Descriptor struct {
	Namespace string                       `yaml:"-"`
	Services  map[string]DescriptorService `yaml:"services"`
}

// DescriptorService is one service entry of a Descriptor.
type DescriptorService struct {
	Build         DescriptorBuild   `yaml:"build"`
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
	EnvFile       []string          `yaml:"env_file"`
	Environment   map[string]string `yaml:"environment"`
	Volumes       []string          `yaml:"volumes"`
	Restart       string            `yaml:"restart"`
	Labels        map[string]string `yaml:"labels"`
}

// DescriptorBuild is the build section of a DescriptorService.
type DescriptorBuild struct {
	Context string `yaml:"context"`
}

// Marshal renders the descriptor as YAML.
func (d Descriptor) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# Managed by botctl for instance " + d.Namespace + ".\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("encode descriptor: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode descriptor: %w", err)
	}
	return buf.Bytes(), nil
}

// =============================================================================
// Secret Config
// =============================================================================

// EnvEntry is one KEY=VALUE line of the secret file.
type EnvEntry struct {
	Key   string
	Value string
}

// SecretConfig is the ordered content of an instance's secret file.
type SecretConfig struct {
	Entries []EnvEntry
}

// Get returns the value of key.
func (s SecretConfig) Get(key string) (string, bool) {
	for _, e := range s.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Render returns the file content, one KEY=VALUE per line.
func (s SecretConfig) Render() []byte {
	var buf bytes.Buffer
	for _, e := range s.Entries {
		buf.WriteString(e.Key)
		buf.WriteByte('=')
		buf.WriteString(e.Value)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// =============================================================================
// Build
// =============================================================================

// Build derives the descriptor and secret file of an instance.
// Inputs are defaulted and validated; failures wrap domain.ErrInput.
//
// Example:
//
//	desc, secrets, err := Build("my-shop", domain.InstallInputs{BotToken: token}, DefaultDescriptorOptions())
//	// desc.Services["bot"].ContainerName == "telegram-bot-my-shop"
func Build(slug string, inputs domain.InstallInputs, opts DescriptorOptions) (Descriptor, SecretConfig, error) {
	if !domain.IsCanonical(slug) {
		return Descriptor{}, SecretConfig{}, fmt.Errorf("%w: %q is not a canonical instance name", domain.ErrInput, slug)
	}

	inputs = inputs.WithDefaults()
	if err := inputs.Validate(); err != nil {
		return Descriptor{}, SecretConfig{}, err
	}

	opts = opts.withDefaults()
	dbPath := opts.DBPath()

	ids, _ := domain.ParseAdminChatIDs(inputs.AdminChatIDs)

	secrets := SecretConfig{Entries: []EnvEntry{
		{Key: EnvBotToken, Value: inputs.BotToken},
		{Key: EnvAdminChatID, Value: domain.FormatAdminChatIDs(ids)},
		{Key: EnvTimezone, Value: inputs.Timezone},
		{Key: EnvDBPath, Value: dbPath},
		{Key: EnvBackupSrc, Value: opts.BackupSrc},
		{Key: EnvMaxBackupMB, Value: strconv.Itoa(inputs.MaxBackupMB)},
	}}

	desc := Descriptor{
		Namespace: slug,
		Services: map[string]DescriptorService{
			opts.ServiceName: {
				Build:         DescriptorBuild{Context: "."},
				Image:         ImageName(opts.Prefix, slug),
				ContainerName: ContainerName(opts.Prefix, slug),
				EnvFile:       []string{SecretFile},
				Environment: map[string]string{
					EnvTimezone: inputs.Timezone,
					EnvDBPath:   dbPath,
				},
				Volumes: []string{"./" + DataDir + ":" + opts.ContainerDataDir},
				Restart: "unless-stopped",
				Labels:  InstanceLabels(slug),
			},
		},
	}

	return desc, secrets, nil
}
