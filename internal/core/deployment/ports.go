package deployment

import (
	"github.com/artpar/botctl/internal/core/compose"
)

// =============================================================================
// Port Conversion Functions
// =============================================================================

// PortPlans converts descriptor ports to planned bindings.
// Default protocol is "tcp" if empty.
//
// Example:
//
//	PortPlans([]compose.Port{{Target: 8443, Published: 8443}})
//	// Result: []PortPlan{{ContainerPort: 8443, HostPort: 8443, Protocol: "tcp"}}
func PortPlans(ports []compose.Port) []PortPlan {
	if len(ports) == 0 {
		return nil
	}

	result := make([]PortPlan, 0, len(ports))
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		result = append(result, PortPlan{
			ContainerPort: int(p.Target),
			HostPort:      int(p.Published),
			Protocol:      proto,
			HostIP:        p.HostIP,
		})
	}
	return result
}
