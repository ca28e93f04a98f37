package tls

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dotside-studios/pax-pos-agent/buildinfo"
)

// BootstrapServer serves the CA certificate over plain HTTP so the devices
// running the POS front end can trust the agent's wss endpoint.
type BootstrapServer struct {
	manager    *Manager
	port       int
	httpServer *http.Server
	logger     zerolog.Logger
}

func NewBootstrapServer(manager *Manager, port int) *BootstrapServer {
	return &BootstrapServer{
		manager: manager,
		port:    port,
		logger:  log.With().Str("component", "tls-bootstrap").Logger(),
	}
}

// Handler returns the bootstrap routes.
func (s *BootstrapServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ca.pem", s.handleCACert)
	mux.HandleFunc("/ca.crt", s.handleCACert)
	mux.HandleFunc("/", s.handleInstructions)
	return mux
}

// Start listens on the bootstrap port and serves in the background.
func (s *BootstrapServer) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}

	ev := s.logger.Info().Strs("urls", downloadURLs(lanHosts(), s.port))
	if fingerprint, err := s.manager.CAFingerprint(); err == nil {
		ev = ev.Str("caFingerprint", fingerprint)
	}
	ev.Msg("CA bootstrap server running")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("bootstrap server failed")
		}
	}()
	return nil
}

func (s *BootstrapServer) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.Shutdown(ctx)
	s.httpServer = nil
}

func (s *BootstrapServer) handleCACert(w http.ResponseWriter, r *http.Request) {
	caCert, err := s.manager.ReadCACert()
	if err != nil {
		http.Error(w, "CA certificate not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", buildinfo.DirName+"-ca.pem"))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(caCert)

	s.logger.Info().Str("remote", r.RemoteAddr).Msg("CA certificate downloaded")
}

var instructionsTmpl = template.Must(template.New("instructions").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.App}} - Install CA Certificate</title>
<style>
body { font-family: sans-serif; max-width: 560px; margin: 0 auto; padding: 16px; }
code { word-break: break-all; }
a.button { display: inline-block; background: #1f6feb; color: #fff; padding: 12px 24px; border-radius: 6px; text-decoration: none; }
</style>
</head>
<body>
<h1>Install CA Certificate</h1>
<p>Install this certificate authority on the device running the POS front end so it can reach {{.App}} over a secure connection.</p>
<p><a class="button" href="/ca.pem">Download CA Certificate</a></p>
<p>Check that the fingerprint matches the one in the agent log before trusting it.</p>
<h2>SHA-256 fingerprint</h2>
<p><code>{{.Fingerprint}}</code></p>
<h2>Android</h2>
<ol>
<li>Settings, Security, Encryption &amp; credentials</li>
<li>Install a certificate, CA certificate</li>
<li>Select the downloaded file</li>
</ol>
<h2>Download URLs</h2>
<ul>{{range .URLs}}<li><code>{{.}}</code></li>{{end}}</ul>
</body>
</html>
`))

func (s *BootstrapServer) handleInstructions(w http.ResponseWriter, r *http.Request) {
	fingerprint, err := s.manager.CAFingerprint()
	if err != nil {
		fingerprint = "unavailable"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	instructionsTmpl.Execute(w, map[string]any{
		"App":         buildinfo.DisplayName,
		"Fingerprint": fingerprint,
		"URLs":        downloadURLs(lanHosts(), s.port),
	})
}

func lanHosts() []string {
	hosts, _ := GetAllHosts()
	return hosts
}

// downloadURLs lists the CA download URL for every literal IP in hosts.
func downloadURLs(hosts []string, port int) []string {
	var urls []string
	for _, h := range hosts {
		if net.ParseIP(h) == nil {
			continue
		}
		urls = append(urls, fmt.Sprintf("http://%s/ca.pem", net.JoinHostPort(h, fmt.Sprint(port))))
	}
	return urls
}
