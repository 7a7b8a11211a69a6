package instance

import "os"

// GetID returns the identifier this process uses when claiming sync actions.
// Deployment sets ORDERSYNC_WORKER_ID per replica; the hostname is a usable
// fallback in containerized environments.
func GetID() string {
	if id := os.Getenv("ORDERSYNC_WORKER_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
