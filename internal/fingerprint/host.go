package fingerprint

import (
	"os"
	"runtime"
	"strings"
	"time"
)

// HostSignals collects what a non-browser client can observe about the
// machine it runs on. Screen geometry and rendering probes are unknown and
// fall back to zero values and sentinels.
func HostSignals() Signals {
	name, offset := time.Now().Zone()
	if loc := time.Local.String(); loc != "" && loc != "Local" {
		name = loc
	}
	lang := hostLanguage()
	return Signals{
		TimeZone:            name,
		TimezoneOffset:      -offset / 60,
		Language:            lang,
		Languages:           []string{lang},
		Platform:            runtime.GOOS + "/" + runtime.GOARCH,
		HardwareConcurrency: runtime.NumCPU(),
	}
}

func hostLanguage() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(key)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		v, _, _ = strings.Cut(v, ".")
		return strings.ReplaceAll(v, "_", "-")
	}
	return "en-US"
}
