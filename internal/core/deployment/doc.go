// Package deployment derives everything an instance needs at runtime from
// its slug: resource names, the orchestration descriptor, the secret file
// and the container plans the runtime executes. All functions are pure.
//
//   - Naming: ContainerName, ImageName, NetworkName, VolumeName
//   - Descriptor: Build, Descriptor.Marshal, SecretConfig.Render
//   - Env files: ParseSecretConfig, MergeEnv
//   - Planning: TopologicalSort, BuildContainerPlan, PortPlans
//
// The imperative shell (internal/shell/docker) executes the plans.
//
//	desc, secrets, err := deployment.Build(slug, inputs, opts)
//	ordered := deployment.TopologicalSort(spec.Services)
//	plan := deployment.BuildContainerPlan(params)
package deployment
