package version

// Version is overridden at build time with -ldflags "-X github.com/saworbit/framecap/internal/version.Version=...".
var Version = "dev"
