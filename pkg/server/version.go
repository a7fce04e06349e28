package server

// Version is the server version string.
// Override at build time with: go build -ldflags "-X github.com/jastadj/sfmlmud2/pkg/server.Version=0.3.0"
var Version = "0.3.0"

// VersionString returns the full version display string.
func VersionString() string {
	return "sfmlmud " + Version
}
