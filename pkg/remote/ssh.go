package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/errors"
)

// SSHConfig configures connections to remote hosts.
type SSHConfig struct {
	// User is the login used when the host does not carry "user@".
	User string

	// Port is used when the host does not carry ":port".
	Port int

	// IdentityFile is a private key; empty tries ~/.ssh/id_ed25519 and ~/.ssh/id_rsa.
	IdentityFile string

	// KnownHosts is the known_hosts file used to verify host keys.
	KnownHosts string

	// UseAgent authenticates through SSH_AUTH_SOCK when available.
	UseAgent bool

	// InsecureIgnoreHostKey skips host key verification.
	InsecureIgnoreHostKey bool

	// Timeout bounds connection establishment.
	Timeout time.Duration
}

// DefaultSSHConfig returns sensible defaults for SSH access.
func DefaultSSHConfig() SSHConfig {
	home, _ := os.UserHomeDir()
	user := os.Getenv("USER")
	return SSHConfig{
		User:       user,
		Port:       22,
		KnownHosts: filepath.Join(home, ".ssh", "known_hosts"),
		UseAgent:   true,
		Timeout:    15 * time.Second,
	}
}

// SSH reads files on remote hosts over SSH. One client is kept per
// (session, host) pair and reused by every job of that session.
type SSH struct {
	cfg    SSHConfig
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

// NewSSH creates an SSH backend.
func NewSSH(cfg SSHConfig, logger *slog.Logger) *SSH {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SSH{cfg: cfg, logger: logger, clients: make(map[string]*ssh.Client)}
}

func clientKey(session, host string) string {
	return session + "\x00" + host
}

// splitHost turns "user@host:port" into its login and dial address.
func (s *SSH) splitHost(host string) (user, addr string) {
	user = s.cfg.User
	if at := strings.LastIndex(host, "@"); at >= 0 {
		user, host = host[:at], host[at+1:]
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return user, host
	}
	return user, net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))
}

// authMethods returns the client auth methods and a func that closes the
// agent connection once the handshake is over.
func (s *SSH) authMethods() ([]ssh.AuthMethod, func()) {
	var methods []ssh.AuthMethod
	done := func() {}

	if s.cfg.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			if conn, err := net.Dial("unix", sock); err == nil {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
				done = func() { conn.Close() }
			} else {
				s.logger.Debug("ssh agent unavailable", "error", err)
			}
		}
	}

	candidates := []string{s.cfg.IdentityFile}
	if s.cfg.IdentityFile == "" {
		home, _ := os.UserHomeDir()
		candidates = []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
		}
	}
	var signers []ssh.Signer
	for _, path := range candidates {
		pem, err := os.ReadFile(expandHome(path))
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			s.logger.Warn("unusable identity file", "path", path, "error", err)
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	return methods, done
}

func (s *SSH) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return knownhosts.New(expandHome(s.cfg.KnownHosts))
}

func (s *SSH) client(ctx context.Context, session, host string) (*ssh.Client, error) {
	key := clientKey(session, host)

	s.mu.Lock()
	if c, ok := s.clients[key]; ok {
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	hostKeys, err := s.hostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	user, addr := s.splitHost(host)
	auth, closeAgent := s.authMethods()
	defer closeAgent()
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         s.cfg.Timeout,
	}

	dialer := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	client := ssh.NewClient(c, chans, reqs)
	s.logger.Debug("ssh connected", "host", host, "session", session)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.clients[key]; ok {
		// Another job connected first.
		client.Close()
		return existing, nil
	}
	s.clients[key] = client
	return client, nil
}

func (s *SSH) evict(session, host string, c *ssh.Client) {
	key := clientKey(session, host)
	s.mu.Lock()
	if s.clients[key] == c {
		delete(s.clients, key)
	}
	s.mu.Unlock()
	c.Close()
}

func (s *SSH) newSession(ctx context.Context, session, host string) (*ssh.Session, error) {
	c, err := s.client(ctx, session, host)
	if err != nil {
		return nil, err
	}
	sess, err := c.NewSession()
	if err != nil {
		// Connection went away; reconnect on the next attempt.
		s.evict(session, host, c)
		return nil, err
	}
	return sess, nil
}

// Open streams the remote file through "cat".
func (s *SSH) Open(ctx context.Context, session string, t core.Target) (io.ReadCloser, error) {
	sess, err := s.newSession(ctx, session, t.Host)
	if err != nil {
		return nil, errors.TransientIO(err, t.Host, t.Path)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, errors.TransientIO(err, t.Host, t.Path)
	}
	r := &sshReader{sess: sess, stdout: stdout, target: t}
	sess.Stderr = &r.stderr
	if err := sess.Start("cat -- " + shellQuote(t.Path)); err != nil {
		sess.Close()
		return nil, errors.TransientIO(err, t.Host, t.Path)
	}
	return r, nil
}

// Stat returns the remote file size.
func (s *SSH) Stat(ctx context.Context, session string, t core.Target) (int64, error) {
	sess, err := s.newSession(ctx, session, t.Host)
	if err != nil {
		return 0, errors.TransientIO(err, t.Host, t.Path)
	}
	defer sess.Close()

	out, err := sess.Output("wc -c < " + shellQuote(t.Path))
	if err != nil {
		return 0, errors.TransientIO(err, t.Host, t.Path)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, errors.TransientIO(err, t.Host, t.Path)
	}
	return n, nil
}

// CopyToLocal downloads the remote file into dir.
func (s *SSH) CopyToLocal(ctx context.Context, session string, t core.Target, dir string) (string, error) {
	return copyToLocal(ctx, s, session, t, dir)
}

// CloseSession drops every connection opened for session.
func (s *SSH) CloseSession(session string) {
	prefix := session + "\x00"
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.clients {
		if strings.HasPrefix(key, prefix) {
			c.Close()
			delete(s.clients, key)
		}
	}
}

// Close drops every connection.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs errors.MultiError
	for key, c := range s.clients {
		errs.Add(c.Close())
		delete(s.clients, key)
	}
	return errs.Combined()
}

type sshReader struct {
	sess   *ssh.Session
	stdout io.Reader
	stderr bytes.Buffer
	target core.Target
	done   bool
}

func (r *sshReader) Read(p []byte) (int, error) {
	n, err := r.stdout.Read(p)
	if err == io.EOF && !r.done {
		r.done = true
		if werr := r.sess.Wait(); werr != nil {
			msg := strings.TrimSpace(r.stderr.String())
			if msg == "" {
				msg = werr.Error()
			}
			return n, errors.TransientIO(fmt.Errorf("%s", msg), r.target.Host, r.target.Path)
		}
	}
	return n, err
}

func (r *sshReader) Close() error {
	err := r.sess.Close()
	if err == io.EOF {
		return nil
	}
	return err
}

// shellQuote quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
