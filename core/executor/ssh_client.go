package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// RunOptions controls how a single command is executed
type RunOptions struct {
	// Stdout and Stderr receive output chunks as they arrive.
	Stdout io.Writer
	Stderr io.Writer
	// Stdin is fed to the remote command.
	Stdin io.Reader
	// DiscardStdout skips capturing stdout into the Result.
	DiscardStdout bool
}

// Remote is an open connection to one host
type Remote interface {
	Run(ctx context.Context, command string, opts RunOptions) (Result, error)
	WriteFile(ctx context.Context, remotePath string, content []byte, mode os.FileMode) error
	ReadFile(ctx context.Context, remotePath string, w io.Writer) error
	Host() string
	Close() error
}

// Dialer opens connections to remote hosts
type Dialer interface {
	Dial(ctx context.Context, host string) (Remote, error)
}

// ConnectError wraps network and authentication failures
type ConnectError struct {
	Host string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("ssh connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SSHConfig holds connection settings for SSHClient
type SSHConfig struct {
	User           string
	Port           int
	DialTimeout    time.Duration
	KeepAlive      time.Duration
	KnownHostsPath string
}

// SSHClient handles SSH connections to remote nodes
type SSHClient struct {
	config    *ssh.ClientConfig
	port      int
	keepAlive time.Duration
}

// NewSSHClient creates a new SSH client from a PEM private key
func NewSSHClient(privateKey []byte, cfg SSHConfig) (*SSHClient, error) {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	}

	if cfg.User == "" {
		cfg.User = "ubuntu"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}

	return &SSHClient{
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.DialTimeout,
		},
		port:      cfg.Port,
		keepAlive: cfg.KeepAlive,
	}, nil
}

// Dial opens a connection that the caller owns and must Close
func (sc *SSHClient) Dial(ctx context.Context, host string) (Remote, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(sc.port))

	d := net.Dialer{Timeout: sc.config.Timeout}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Host: host, Err: err}
	}

	// Bound the handshake; the deadline is cleared once authenticated.
	_ = netConn.SetDeadline(time.Now().Add(sc.config.Timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, sc.config)
	if err != nil {
		netConn.Close()
		return nil, &ConnectError{Host: host, Err: err}
	}
	_ = netConn.SetDeadline(time.Time{})

	conn := &Conn{
		client: ssh.NewClient(sshConn, chans, reqs),
		host:   host,
		done:   make(chan struct{}),
	}
	if sc.keepAlive > 0 {
		go conn.keepAliveLoop(sc.keepAlive)
	}

	log.Debug().Str("host", host).Msg("ssh connected")
	return conn, nil
}

// Execute runs exactly one command on host over a fresh connection
func (sc *SSHClient) Execute(ctx context.Context, host string, command string) (Result, error) {
	return sc.ExecuteCommandStream(ctx, host, command, nil)
}

// ExecuteCommandStream executes a command and streams output to outputWriter
func (sc *SSHClient) ExecuteCommandStream(
	ctx context.Context,
	host string,
	command string,
	outputWriter io.Writer,
) (Result, error) {
	conn, err := sc.Dial(ctx, host)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()

	return conn.Run(ctx, command, RunOptions{Stdout: outputWriter, Stderr: outputWriter})
}

// TestConnection tests SSH connection to a node
func (sc *SSHClient) TestConnection(ctx context.Context, host string) error {
	_, err := sc.Execute(ctx, host, "true")
	return err
}

// Conn is a single SSH connection; each Run opens its own session on it
type Conn struct {
	client    *ssh.Client
	host      string
	done      chan struct{}
	closeOnce sync.Once
}

// Host returns the remote address this connection was opened to
func (c *Conn) Host() string { return c.host }

// Run executes command in a new session and waits for it to exit.
// Cancelling ctx kills the session.
func (c *Conn) Run(ctx context.Context, command string, opts RunOptions) (Result, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return Result{}, &ConnectError{Host: c.host, Err: fmt.Errorf("new session: %w", err)}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = teeWriter(&stdout, opts.Stdout, opts.DiscardStdout)
	session.Stderr = teeWriter(&stderr, opts.Stderr, false)
	if opts.Stdin != nil {
		session.Stdin = opts.Stdin
	}

	if err := session.Start(command); err != nil {
		return Result{}, fmt.Errorf("start command: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- session.Wait() }()

	var waitErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		<-waitCh
		return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitStatus: -1}, ctx.Err()
	case waitErr = <-waitCh:
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if waitErr != nil {
		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		switch {
		case errors.As(waitErr, &exitErr):
			result.ExitStatus = exitErr.ExitStatus()
		case errors.As(waitErr, &missingErr):
			result.ExitStatus = -1
		default:
			return result, fmt.Errorf("wait command: %w", waitErr)
		}
	}
	return result, nil
}

// WriteFile uploads content to remotePath through the session's stdin
func (c *Conn) WriteFile(ctx context.Context, remotePath string, content []byte, mode os.FileMode) error {
	quoted := ShellQuote(remotePath)
	cmd := fmt.Sprintf("cat > %s && chmod %o %s", quoted, mode.Perm(), quoted)
	result, err := c.Run(ctx, cmd, RunOptions{Stdin: bytes.NewReader(content)})
	if err != nil {
		return err
	}
	return Classify(cmd, result, PolicyExitStatus, ModeExitStatus)
}

// ReadFile streams remotePath into w without buffering it
func (c *Conn) ReadFile(ctx context.Context, remotePath string, w io.Writer) error {
	cmd := "cat " + ShellQuote(remotePath)
	result, err := c.Run(ctx, cmd, RunOptions{Stdout: w, DiscardStdout: true})
	if err != nil {
		return err
	}
	return Classify(cmd, result, PolicyExitStatus, ModeExitStatus)
}

// Close tears the connection down; it is safe to call more than once
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.client.Close()
		log.Debug().Str("host", c.host).Msg("ssh disconnected")
	})
	return err
}

func (c *Conn) keepAliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if _, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				log.Warn().Err(err).Str("host", c.host).Msg("ssh keepalive failed")
				return
			}
		}
	}
}

func teeWriter(buf *bytes.Buffer, sink io.Writer, discard bool) io.Writer {
	switch {
	case sink == nil:
		return buf
	case discard:
		return sink
	default:
		return io.MultiWriter(buf, sink)
	}
}

// ShellQuote quotes s for a POSIX shell
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
