package deployment

import "fmt"

// =============================================================================
// Resource Naming Functions
// =============================================================================

// Every runtime resource of an instance is named from its namespace (the slug),
// so two instances can never address each other's resources.

// DefaultPrefix is the image repository and container name prefix.
const DefaultPrefix = "telegram-bot"

// NetworkName generates the network name of a namespace.
// Pattern: {namespace}_default
//
// Example:
//
//	NetworkName("my-shop") // returns "my-shop_default"
func NetworkName(namespace string) string {
	return fmt.Sprintf("%s_default", namespace)
}

// ImageName generates the image reference built for a namespace.
// The namespace is the tag, so any slug yields a valid reference.
//
// Example:
//
//	ImageName("telegram-bot", "my-shop") // returns "telegram-bot:my-shop"
func ImageName(prefix, namespace string) string {
	return fmt.Sprintf("%s:%s", prefix, namespace)
}

// ContainerName generates the container name of the primary service.
//
// Example:
//
//	ContainerName("telegram-bot", "my-shop") // returns "telegram-bot-my-shop"
func ContainerName(prefix, namespace string) string {
	return fmt.Sprintf("%s-%s", prefix, namespace)
}

// ServiceContainerName names the container of an additional service that
// does not set container_name.
//
// Example:
//
//	ServiceContainerName("telegram-bot", "my-shop", "cache") // returns "telegram-bot_7_my-shop_cache"
func ServiceContainerName(prefix, namespace, service string) string {
	return scopedName(prefix, namespace, service)
}

// ServiceImageName names the image of an additional service that is built
// but declares no image.
//
// Example:
//
//	ServiceImageName("telegram-bot", "my-shop", "worker") // returns "telegram-bot-worker:my-shop"
func ServiceImageName(prefix, namespace, service string) string {
	return fmt.Sprintf("%s-%s:%s", prefix, service, namespace)
}

// VolumeName generates a named volume for a namespace.
//
// Example:
//
//	VolumeName("telegram-bot", "my-shop", "cache-data") // returns "telegram-bot_7_my-shop_cache-data"
func VolumeName(prefix, namespace, volumeName string) string {
	return scopedName(prefix, namespace, volumeName)
}

// scopedName joins a namespace and a resource name. '-', '_' and '.' are all
// legal inside a slug, so the slug length is encoded to keep the result
// unique per (namespace, name) pair. The '_' after the prefix keeps these
// names apart from ContainerName, which always uses '-'.
// Pattern: {prefix}_{len(namespace)}_{namespace}_{name}
func scopedName(prefix, namespace, name string) string {
	return fmt.Sprintf("%s_%d_%s_%s", prefix, len(namespace), namespace, name)
}
