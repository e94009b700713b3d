// Package version хранит сведения о сборке, проставляемые через -ldflags.
package version

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// Переопределяются через -ldflags "-X github.com/ttejuosho/akubata/internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает собранный бинарник akubata.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о сборке. Без -ldflags коммит и дата берутся
// из VCS-меток, которые go build встраивает сам.
func Current() Build {
	b := Build{Version: version, Commit: commit, Date: date}
	if info, ok := debug.ReadBuildInfo(); ok {
		b = b.withVCS(info.Settings)
	}
	return b
}

func (b Build) withVCS(settings []debug.BuildSetting) Build {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "unknown" && s.Value != "" {
				b.Commit = s.Value
			}
		case "vcs.time":
			if b.Date == "unknown" && s.Value != "" {
				b.Date = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" && b.Version == "dev" {
				b.Version = "dev-dirty"
			}
		}
	}
	return b
}

// GetVersion возвращает версию сборки для /healthz.
func GetVersion() string { return Current().Version }

// String форматирует сведения о сборке для логов.
func (b Build) String() string {
	return fmt.Sprintf("akubata version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}

// Fields возвращает сведения о сборке в виде полей logrus для стартового сообщения.
func (b Build) Fields() log.Fields {
	return log.Fields{"version": b.Version, "commit": b.Commit, "build_date": b.Date}
}
