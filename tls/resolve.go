package tls

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dotside-studios/pax-pos-agent/buildinfo"
)

// Modes accepted by Resolve.
const (
	ModeOff  = "off"
	ModeAuto = "auto"
	ModeFile = "file"
)

// DefaultConfigDir is where auto mode keeps its CA and certificates.
func DefaultConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(dir, buildinfo.DirName), nil
}

// Resolve returns the certificate and key to serve for mode. Off yields
// empty paths. Auto issues a locally trusted certificate under configDir
// and also returns the manager so the CA can be distributed. File checks
// that certFile and keyFile are readable.
func Resolve(mode, configDir, certFile, keyFile string) (cert, key string, mgr *Manager, err error) {
	switch mode {
	case "", ModeOff:
		return "", "", nil, nil
	case ModeAuto:
		mgr = NewManager(configDir)
		cert, key, err = mgr.EnsureCertificates()
		if err != nil {
			return "", "", nil, err
		}
		return cert, key, mgr, nil
	case ModeFile:
		for _, f := range []string{certFile, keyFile} {
			if _, err := os.Stat(f); err != nil {
				return "", "", nil, fmt.Errorf("tls file: %w", err)
			}
		}
		return certFile, keyFile, nil, nil
	default:
		return "", "", nil, fmt.Errorf("unknown tls mode %q", mode)
	}
}
