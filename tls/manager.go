package tls

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jittering/truststore"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// renewBefore is how long before expiry the server certificate is reissued.
const renewBefore = 30 * 24 * time.Hour

// certState records what the current server certificate was issued for.
type certState struct {
	Hosts    []string  `yaml:"hosts"`
	IssuedAt time.Time `yaml:"issuedAt"`
}

// Manager keeps a locally trusted certificate for the agent's LAN addresses.
// The CA is created and installed into the system trust store on first use;
// the server certificate is reissued when the host's addresses change.
type Manager struct {
	configDir  string
	tlsDir     string
	caDir      string
	caCertFile string
	certFile   string
	keyFile    string
	stateFile  string
	logger     zerolog.Logger
}

// NewManager creates a Manager that keeps its files under configDir.
func NewManager(configDir string) *Manager {
	tlsDir := filepath.Join(configDir, "tls")
	caDir := filepath.Join(configDir, "ca")
	return &Manager{
		configDir:  configDir,
		tlsDir:     tlsDir,
		caDir:      caDir,
		caCertFile: filepath.Join(caDir, "rootCA.pem"),
		certFile:   filepath.Join(tlsDir, "server.crt"),
		keyFile:    filepath.Join(tlsDir, "server.key"),
		stateFile:  filepath.Join(tlsDir, "state.yaml"),
		logger:     log.With().Str("component", "tls").Logger(),
	}
}

// EnsureCertificates returns the server certificate and key, issuing them
// when missing, issued for other addresses or close to expiry. Installing
// the CA may prompt for a password.
func (m *Manager) EnsureCertificates() (certFile, keyFile string, err error) {
	if err := os.MkdirAll(m.tlsDir, 0700); err != nil {
		return "", "", fmt.Errorf("failed to create TLS directory: %w", err)
	}

	hosts, err := GetAllHosts()
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to list LAN addresses, using loopback only")
		hosts = []string{"localhost", "127.0.0.1"}
	}

	switch {
	case !m.certsExist():
		m.logger.Info().Strs("hosts", hosts).Msg("issuing certificate")
	case m.hostsChanged(hosts):
		m.logger.Info().Strs("hosts", hosts).Msg("network addresses changed, reissuing certificate")
	case m.expiresWithin(time.Now(), renewBefore):
		m.logger.Info().Msg("certificate about to expire, reissuing")
	default:
		m.logger.Debug().Str("cert", m.certFile).Msg("using existing certificate")
		return m.certFile, m.keyFile, nil
	}

	if err := m.generateCertificates(hosts); err != nil {
		return "", "", err
	}
	return m.certFile, m.keyFile, nil
}

func (m *Manager) certsExist() bool {
	_, certErr := os.Stat(m.certFile)
	_, keyErr := os.Stat(m.keyFile)
	return certErr == nil && keyErr == nil
}

// hostsChanged compares hosts with the set the certificate was issued for,
// ignoring order. A missing or unreadable state counts as changed.
func (m *Manager) hostsChanged(hosts []string) bool {
	state, err := m.readState()
	if err != nil || len(state.Hosts) != len(hosts) {
		return true
	}

	a := slices.Clone(state.Hosts)
	b := slices.Clone(hosts)
	slices.Sort(a)
	slices.Sort(b)
	return !slices.Equal(a, b)
}

// expiresWithin reports whether the server certificate expires before
// now+d. An unreadable certificate counts as expiring.
func (m *Manager) expiresWithin(now time.Time, d time.Duration) bool {
	data, err := os.ReadFile(m.certFile)
	if err != nil {
		return true
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return true
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return true
	}
	return now.Add(d).After(cert.NotAfter)
}

func (m *Manager) readState() (certState, error) {
	var state certState
	data, err := os.ReadFile(m.stateFile)
	if err != nil {
		return state, err
	}
	if err := yaml.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("parse %s: %w", m.stateFile, err)
	}
	return state, nil
}

func (m *Manager) writeState(state certState) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return err
	}
	return os.WriteFile(m.stateFile, data, 0600)
}

func (m *Manager) generateCertificates(hosts []string) error {
	if err := os.MkdirAll(m.caDir, 0700); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}
	// truststore keeps its CA under CAROOT.
	os.Setenv("CAROOT", m.caDir)

	ml, err := truststore.NewLib()
	if err != nil {
		return fmt.Errorf("failed to initialize truststore: %w", err)
	}

	m.logger.Info().Msg("installing CA into the system trust store, you may be prompted for your password")
	if err := ml.Install(); err != nil {
		return fmt.Errorf("failed to install CA: %w", err)
	}

	cert, err := ml.MakeCert(hosts, m.tlsDir)
	if err != nil {
		return fmt.Errorf("failed to generate certificate: %w", err)
	}
	if cert.CertFile != m.certFile {
		if err := os.Rename(cert.CertFile, m.certFile); err != nil {
			return fmt.Errorf("failed to rename cert file: %w", err)
		}
	}
	if cert.KeyFile != m.keyFile {
		if err := os.Rename(cert.KeyFile, m.keyFile); err != nil {
			return fmt.Errorf("failed to rename key file: %w", err)
		}
	}

	if err := m.writeState(certState{Hosts: hosts, IssuedAt: time.Now().UTC()}); err != nil {
		m.logger.Warn().Err(err).Msg("failed to record certificate state")
	}

	ev := m.logger.Info().Str("cert", m.certFile)
	if fingerprint, err := m.CAFingerprint(); err == nil {
		ev = ev.Str("caFingerprint", fingerprint)
	}
	ev.Msg("certificate issued")
	return nil
}

func (m *Manager) CertFile() string {
	return m.certFile
}

func (m *Manager) KeyFile() string {
	return m.keyFile
}

func (m *Manager) CACertFile() string {
	return m.caCertFile
}

// CAFingerprint returns the SHA-256 fingerprint of the CA certificate as
// colon separated hex.
func (m *Manager) CAFingerprint() (string, error) {
	certPEM, err := os.ReadFile(m.caCertFile)
	if err != nil {
		return "", fmt.Errorf("failed to read CA certificate: %w", err)
	}
	return Fingerprint(certPEM)
}

// Fingerprint returns the SHA-256 fingerprint of the first certificate in
// certPEM.
func Fingerprint(certPEM []byte) (string, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return "", fmt.Errorf("failed to decode PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}

	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}

func (m *Manager) ReadCACert() ([]byte, error) {
	return os.ReadFile(m.caCertFile)
}
