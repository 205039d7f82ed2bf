package deployment

import (
	"github.com/artpar/botctl/internal/core/compose"
)

// =============================================================================
// Container Plan Types
// =============================================================================

// ContainerPlan represents a planned container configuration.
// This is the pure output of planning, ready for the shell to execute.
type ContainerPlan struct {
	Service       string
	Name          string
	Image         string
	Command       []string
	Entrypoint    []string
	Env           map[string]string
	Labels        map[string]string
	Ports         []PortPlan
	Volumes       []VolumePlan
	Networks      []string
	RestartPolicy RestartPolicyPlan
}

// PortPlan represents a planned port binding.
type PortPlan struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// VolumePlan represents a planned volume mount.
type VolumePlan struct {
	Type     compose.VolumeMountType
	Source   string
	Target   string
	ReadOnly bool
}

// RestartPolicyPlan represents a restart policy.
type RestartPolicyPlan struct {
	Name              string
	MaximumRetryCount int
}

// =============================================================================
// Builder Parameter Types
// =============================================================================

// BuildContainerPlanParams contains all inputs for building a container plan.
type BuildContainerPlanParams struct {
	Prefix      string
	Namespace   string
	Workspace   string // absolute workspace path; relative bind sources resolve against it
	Service     compose.Service
	EnvFile     map[string]string // merged values of the service's env files
	NetworkName string
	External    map[string]bool // descriptor volumes used by their own name
}

// =============================================================================
// Container Labels
// =============================================================================

// Label keys used for container identification.
const (
	LabelManaged  = "com.botctl.managed"
	LabelInstance = "com.botctl.instance"
	LabelService  = "com.botctl.service"
)

// InstanceLabels returns the labels shared by every resource of a namespace.
func InstanceLabels(namespace string) map[string]string {
	return map[string]string{
		LabelManaged:  "true",
		LabelInstance: namespace,
	}
}

// InstanceFilter returns the label filter selecting a namespace's resources.
//
// Example:
//
//	InstanceFilter("my-shop") // returns "com.botctl.instance=my-shop"
func InstanceFilter(namespace string) string {
	return LabelInstance + "=" + namespace
}
