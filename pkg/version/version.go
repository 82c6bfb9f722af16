package version

// Version is overridden at build time via -ldflags "-X airmap/pkg/version.Version=...".
var Version = "v0.3.0"
