// Package buildinfo carries build-time metadata that is not part of user
// configuration.
package buildinfo

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// BuildInfo provides read access to build-time metadata.
type BuildInfo interface {
	GetVersion() string
	GetBuildDate() string
	GetSystemID() string
}

// Context contains metadata injected at startup via -ldflags and the
// persisted system identifier.
type Context struct {
	version   string
	buildDate string
	systemID  string
}

// NewContext returns a Context for the given metadata.
func NewContext(version, buildDate, systemID string) *Context {
	return &Context{version: version, buildDate: buildDate, systemID: systemID}
}

// Version returns the version tag, or UnknownValue.
func (c *Context) Version() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.version)
}

// BuildDate returns the build timestamp, or UnknownValue.
func (c *Context) BuildDate() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.buildDate)
}

// SystemID returns the installation identifier, or UnknownValue.
func (c *Context) SystemID() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.systemID)
}

// GetVersion implements BuildInfo.
func (c *Context) GetVersion() string { return c.Version() }

// GetBuildDate implements BuildInfo.
func (c *Context) GetBuildDate() string { return c.BuildDate() }

// GetSystemID implements BuildInfo.
func (c *Context) GetSystemID() string { return c.SystemID() }

// Release returns the release name reported to error tracking.
func (c *Context) Release(app string) string {
	return app + "@" + c.Version()
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}
