package deployment

import (
	"sort"

	"github.com/artpar/botctl/internal/core/compose"
)

// =============================================================================
// Service Ordering Functions
// =============================================================================

// TopologicalSort sorts services by their dependencies using Kahn's algorithm.
// Services with no dependencies come first; ties are broken by name so the
// start order is stable across runs. Dependencies on services that are not
// in the list are ignored.
//
// If a cycle exists (which should be caught at parse time), remaining
// services are appended in name order as a fallback.
//
// Example:
//
//	// Services: bot → cache
//	services := []compose.Service{
//	    {Name: "bot", DependsOn: []string{"cache"}},
//	    {Name: "cache"},
//	}
//	sorted := TopologicalSort(services)
//	// Result: [cache, bot]
func TopologicalSort(services []compose.Service) []compose.Service {
	if len(services) == 0 {
		return services
	}

	serviceMap := make(map[string]compose.Service, len(services))
	for _, svc := range services {
		serviceMap[svc.Name] = svc
	}

	inDegree := make(map[string]int, len(services))
	dependents := make(map[string][]string)
	for _, svc := range services {
		inDegree[svc.Name] += 0
		for _, dep := range svc.DependsOn {
			if _, ok := serviceMap[dep]; !ok {
				continue
			}
			inDegree[svc.Name]++
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	var ready []string
	for name, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	result := make([]compose.Service, 0, len(services))
	placed := make(map[string]bool, len(services))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]

		result = append(result, serviceMap[name])
		placed[name] = true

		var next []string
		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				next = append(next, dep)
			}
		}
		ready = append(ready, next...)
		sort.Strings(ready)
	}

	if len(result) < len(serviceMap) {
		var rest []string
		for name := range serviceMap {
			if !placed[name] {
				rest = append(rest, name)
			}
		}
		sort.Strings(rest)
		for _, name := range rest {
			result = append(result, serviceMap[name])
		}
	}

	return result
}
