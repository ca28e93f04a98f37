package pos

import (
	"bufio"
	"os"
	"strings"
)

// DefaultPlatformKeywords are the package name fragments that identify a POS
// vendor stack.
var DefaultPlatformKeywords = []string{"pax", "pos", "com.pos.device"}

// PlatformProber lists the packages installed on the host.
type PlatformProber interface {
	Packages() ([]string, error)
}

// StaticProber reports a fixed package list.
type StaticProber []string

func (s StaticProber) Packages() ([]string, error) {
	return s, nil
}

const defaultDpkgStatus = "/var/lib/dpkg/status"

// DpkgProber reads installed package names from a dpkg status database.
type DpkgProber struct {
	Path string
}

// NewDpkgProber creates a prober for path, or the system database when
// path is empty.
func NewDpkgProber(path string) *DpkgProber {
	if path == "" {
		path = defaultDpkgStatus
	}
	return &DpkgProber{Path: path}
}

func (p *DpkgProber) Packages() ([]string, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pkgs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "Package: "); ok {
			pkgs = append(pkgs, strings.TrimSpace(name))
		}
	}
	return pkgs, scanner.Err()
}

// matchesPlatform reports whether any package name contains a keyword.
func matchesPlatform(pkgs, keywords []string) bool {
	for _, pkg := range pkgs {
		lower := strings.ToLower(pkg)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// IsPlatformSupported probes the host. Probe failures count as unsupported.
func (t *Terminal) IsPlatformSupported() bool {
	if t.prober == nil {
		return false
	}
	pkgs, err := t.prober.Packages()
	if err != nil {
		t.logger.Debug().Err(err).Msg("platform probe failed")
		return false
	}
	return matchesPlatform(pkgs, t.cfg.PlatformKeywords)
}

func (t *Terminal) checkPlatform(op string) error {
	if t.cfg.SkipPlatformCheck {
		return nil
	}
	if !t.IsPlatformSupported() {
		return newError(KindPlatformUnsupported, op, "PAX SDK not available on this device - not a PAX device", nil)
	}
	return nil
}
