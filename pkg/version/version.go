package version

import (
	"fmt"
	"runtime/debug"
)

// Set with -ldflags at build time.
var (
	Tag       = "v0.0.0-dev"
	GitCommit = ""
)

type Version struct {
	Tag    string `json:"tag"`
	Commit string `json:"commit,omitempty"`
	Dirty  bool   `json:"dirty,omitempty"`
}

func Get() Version {
	v := Version{Tag: Tag, Commit: GitCommit}
	if v.Commit != "" {
		return v
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				v.Commit = s.Value
			case "vcs.modified":
				v.Dirty = s.Value == "true"
			}
		}
	}
	return v
}

func (v Version) String() string {
	if len(v.Commit) < 8 {
		return v.Tag
	}
	s := fmt.Sprintf("%s+%s", v.Tag, v.Commit[:8])
	if v.Dirty {
		s += "-dirty"
	}
	return s
}
