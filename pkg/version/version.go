package version

// Version is the calchat release.
const Version = "0.4.0"

// BuildVersion returns the version string for display.
func BuildVersion() string {
	return "calchat version " + Version
}

// ClientVersion is the value sent as the version query parameter when
// connecting to the realtime transport.
func ClientVersion() string {
	return Version
}
