package version

import (
	"runtime"
	"time"
)

// Set with -ldflags "-X github.com/lubosmato/wled-ambilight/internal/version.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
	CommitID  = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Built renders BuildTime for humans, or returns it unchanged when it is
// not RFC 3339.
func (i Info) Built() string {
	t, err := time.Parse(time.RFC3339, i.BuildTime)
	if err != nil {
		return i.BuildTime
	}
	return t.Local().Format(time.ANSIC)
}

// Get returns the version info baked into the binary.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    CommitID,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
