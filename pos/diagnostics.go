package pos

import (
	"context"
	"errors"
	"os"
	"runtime"
	"strings"

	"github.com/dotside-studios/pax-pos-agent/dal"
)

// Diagnostics reports whether the device layer can be loaded.
type Diagnostics struct {
	Loaded            bool
	Version           string
	PlatformSupported bool
	Err               error
}

func (d Diagnostics) Map() map[string]any {
	m := map[string]any{
		"dalLoaded":         d.Loaded,
		"platformSupported": d.PlatformSupported,
	}
	if d.Version != "" {
		m["version"] = d.Version
	}
	if d.Err != nil {
		var e *Error
		if errors.As(d.Err, &e) {
			m["error"] = e.Message
		} else {
			m["error"] = d.Err.Error()
		}
	}
	return m
}

// Diagnose loads the device layer and reports the outcome without running
// any workflow.
func (t *Terminal) Diagnose(ctx context.Context) Diagnostics {
	if err := t.checkContext("Diagnose"); err != nil {
		return Diagnostics{Err: err}
	}

	diag := Diagnostics{PlatformSupported: t.IsPlatformSupported()}
	d, err := t.device(ctx, "Diagnose")
	if err != nil {
		diag.Err = err
		return diag
	}
	diag.Loaded = true
	if v, ok := d.(dal.VersionReporter); ok {
		diag.Version = v.Version()
	}
	return diag
}

// PlatformVersion describes the host operating system.
func PlatformVersion() string {
	release := ""
	if b, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
		release = strings.TrimSpace(string(b))
	}
	if release == "" {
		return runtime.GOOS + "/" + runtime.GOARCH
	}
	return runtime.GOOS + " " + release + " (" + runtime.GOARCH + ")"
}
