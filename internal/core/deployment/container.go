package deployment

import (
	"path/filepath"
	"strings"

	"github.com/artpar/botctl/internal/core/compose"
)

// =============================================================================
// Container Plan Building Functions
// =============================================================================

// BuildContainerPlan builds a ContainerPlan from a descriptor service.
//
// The function:
//   - Uses container_name when set, otherwise derives it from the namespace
//   - Falls back to a namespace-tagged image for build-only services
//   - Layers service environment over env file values, as Compose does
//   - Resolves relative bind sources against the workspace
//   - Scopes named volumes to the namespace unless they are external
//   - Maps restart policy to Docker format
//   - Attaches the namespace labels and network
//
// Example:
//
//	plan := BuildContainerPlan(BuildContainerPlanParams{
//	    Prefix:      "telegram-bot",
//	    Namespace:   "my-shop",
//	    Workspace:   "/opt/telegram-bots/my-shop",
//	    Service:     svc,
//	    EnvFile:     map[string]string{"BOT_TOKEN": token},
//	    NetworkName: "my-shop_default",
//	})
func BuildContainerPlan(params BuildContainerPlanParams) ContainerPlan {
	svc := params.Service

	plan := ContainerPlan{
		Service:    svc.Name,
		Name:       svc.ContainerName,
		Image:      svc.Image,
		Command:    svc.Command,
		Entrypoint: svc.Entrypoint,
		Env:        MergeEnv(params.EnvFile, svc.Environment),
		Labels:     make(map[string]string),
		Networks:   []string{params.NetworkName},
		Ports:      PortPlans(svc.Ports),
	}

	if plan.Name == "" {
		plan.Name = ServiceContainerName(params.Prefix, params.Namespace, svc.Name)
	}
	if plan.Image == "" {
		plan.Image = ServiceImageName(params.Prefix, params.Namespace, svc.Name)
	}

	for _, v := range svc.Volumes {
		source := v.Source
		switch v.Type {
		case compose.VolumeMountTypeBind:
			source = resolveBindSource(params.Workspace, v.Source)
		case compose.VolumeMountTypeVolume:
			if !params.External[v.Source] {
				source = VolumeName(params.Prefix, params.Namespace, v.Source)
			}
		}
		plan.Volumes = append(plan.Volumes, VolumePlan{
			Type:     v.Type,
			Source:   source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	plan.RestartPolicy = mapRestartPolicy(svc.Restart)

	// Service labels first so they cannot override the namespace labels.
	for k, v := range svc.Labels {
		plan.Labels[k] = v
	}
	for k, v := range InstanceLabels(params.Namespace) {
		plan.Labels[k] = v
	}
	plan.Labels[LabelService] = svc.Name

	return plan
}

// resolveBindSource makes a relative bind source absolute under workspace.
func resolveBindSource(workspace, source string) string {
	if filepath.IsAbs(source) || strings.HasPrefix(source, "~") || workspace == "" {
		return source
	}
	return filepath.Join(workspace, source)
}

// mapRestartPolicy maps compose restart policy to Docker restart policy name.
func mapRestartPolicy(policy compose.RestartPolicy) RestartPolicyPlan {
	switch policy {
	case compose.RestartAlways:
		return RestartPolicyPlan{Name: "always"}
	case compose.RestartOnFailure:
		return RestartPolicyPlan{Name: "on-failure"}
	case compose.RestartUnlessStopped:
		return RestartPolicyPlan{Name: "unless-stopped"}
	default:
		return RestartPolicyPlan{Name: "no"}
	}
}
