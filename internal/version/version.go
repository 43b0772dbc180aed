// ABOUTME: Version and product identification constants
// ABOUTME: Reported by the CLIs and in outbound HTTP requests
package version

const (
	// Version is the playbridge release
	Version = "0.3.0"

	// Product names the binaries and the hub mDNS instance
	Product = "playbridge"
)

// UserAgent identifies playbridge to third-party APIs
func UserAgent() string {
	return Product + "/" + Version
}
