package types

// Version is the fleet release version.
// Update on release; commit hash is injected via ldflags in cmd/fleet.
const Version = "0.4.0"
