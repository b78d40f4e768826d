package version

// Version is set at build time:
//
//	go build -ldflags "-X github.com/amoylab/authcore/pkg/version.Version=v1.2.3"
var Version = "v0.1.0-dev"

// Get returns the current version of the application
func Get() string {
	return Version
}
