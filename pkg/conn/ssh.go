package conn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/netman-network/netman/pkg/inventory"
	"github.com/netman-network/netman/pkg/jumphost"
	"github.com/netman-network/netman/pkg/util"
)

// SSHDialer establishes interactive SSH sessions, directly or through the
// jumphost when one is enabled.
type SSHDialer struct {
	// Jumphost returns the current jumphost config, or nil when direct
	// connections are allowed. Passwords in the returned config are
	// already decrypted.
	Jumphost func() *jumphost.Config
}

// Dial connects, authenticates, waits for the first prompt, disables
// pagination, and resolves the platform driver.
func (d *SSHDialer) Dial(device *inventory.Device, password string, connectTimeout time.Duration) (Session, error) {
	config := &ssh.ClientConfig{
		User: device.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		// Device host keys churn across reimages; the fleet is reached
		// over a management network or the jumphost.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}

	addr := net.JoinHostPort(device.Host, fmt.Sprintf("%d", device.Port))

	var client, bastion *ssh.Client
	var err error
	if jh := jumphostConfig(d); jh != nil {
		client, bastion, err = dialViaJumphost(jh, addr, config, connectTimeout)
	} else {
		client, err = ssh.Dial("tcp", addr, config)
	}
	if err != nil {
		if isAuthError(err) {
			return nil, fmt.Errorf("ssh login to %s: %v: %w", device.Name, err, util.ErrAuth)
		}
		return nil, util.NewTransportError(device.Name, "connect", err)
	}

	sess, err := newShellSession(client, bastion, device, connectTimeout)
	if err != nil {
		client.Close()
		if bastion != nil {
			bastion.Close()
		}
		return nil, err
	}
	return sess, nil
}

func jumphostConfig(d *SSHDialer) *jumphost.Config {
	if d.Jumphost == nil {
		return nil
	}
	cfg := d.Jumphost()
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return cfg
}

// dialViaJumphost opens the bastion connection first, then tunnels the
// device TCP stream through it (ProxyJump equivalent).
func dialViaJumphost(jh *jumphost.Config, deviceAddr string, deviceConfig *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, *ssh.Client, error) {
	bastionConfig := &ssh.ClientConfig{
		User:            jh.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(jh.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
	bastionAddr := net.JoinHostPort(jh.Host, fmt.Sprintf("%d", jh.Port))

	bastion, err := ssh.Dial("tcp", bastionAddr, bastionConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("jumphost %s: %w", bastionAddr, err)
	}

	tunnel, err := bastion.Dial("tcp", deviceAddr)
	if err != nil {
		bastion.Close()
		return nil, nil, fmt.Errorf("jumphost tunnel to %s: %w", deviceAddr, err)
	}

	ncc, chans, reqs, err := ssh.NewClientConn(tunnel, deviceAddr, deviceConfig)
	if err != nil {
		tunnel.Close()
		bastion.Close()
		return nil, nil, err
	}
	return ssh.NewClient(ncc, chans, reqs), bastion, nil
}

func isAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

// sshSession drives an interactive shell with prompt-based reads.
type sshSession struct {
	client  *ssh.Client
	bastion *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	out     chan []byte

	device   string
	drv      *driver
	platform inventory.Platform

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newShellSession(client, bastion *ssh.Client, device *inventory.Device, connectTimeout time.Duration) (*sshSession, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, util.NewTransportError(device.Name, "connect", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 115200,
		ssh.TTY_OP_OSPEED: 115200,
	}
	if err := session.RequestPty("vt100", 80, 512, modes); err != nil {
		session.Close()
		return nil, util.NewTransportError(device.Name, "connect", fmt.Errorf("request pty: %w", err))
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, util.NewTransportError(device.Name, "connect", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, util.NewTransportError(device.Name, "connect", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, util.NewTransportError(device.Name, "connect", err)
	}

	s := &sshSession{
		client:  client,
		bastion: bastion,
		session: session,
		stdin:   stdin,
		out:     make(chan []byte, 64),
		device:  device.Name,
		drv:     driverFor(device.Platform),
	}
	go s.readLoop(stdout)

	// Consume the login banner up to the first prompt.
	if _, err := s.readUntilPrompt(connectTimeout); err != nil {
		s.Close()
		return nil, err
	}

	if err := s.setup(device, connectTimeout); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// setup disables pagination and resolves auto platform hints.
func (s *sshSession) setup(device *inventory.Device, timeout time.Duration) error {
	if device.Platform == inventory.PlatformAuto {
		banner, err := s.Send("show version", timeout)
		if err != nil {
			return err
		}
		s.platform = identifyPlatform(banner)
		s.drv = driverFor(s.platform)
		util.WithDevice(s.device).Debugf("identified platform %s", s.platform)
	} else {
		s.platform = device.Platform
	}

	for _, cmd := range s.drv.setupCmds {
		if _, err := s.Send(cmd, 10*time.Second); err != nil {
			return err
		}
	}
	return nil
}

func (s *sshSession) readLoop(r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.out <- chunk
		}
		if err != nil {
			close(s.out)
			return
		}
	}
}

// Send writes the command and accumulates output until the device prompt
// reappears or readTimeout elapses. Serialised per session: commands on one
// device never interleave.
func (s *sshSession) Send(command string, readTimeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Drop any output still buffered from a previous exchange. A closed
	// channel means readLoop is gone and the session is dead.
	for {
		select {
		case _, ok := <-s.out:
			if !ok {
				return "", util.NewTransportError(s.device, "send", errors.New("session closed"))
			}
			continue
		default:
		}
		break
	}

	if _, err := s.stdin.Write([]byte(command + "\n")); err != nil {
		return "", util.NewTransportError(s.device, "send", err)
	}

	raw, err := s.readUntilPrompt(readTimeout)
	if err != nil {
		return "", err
	}
	return stripCommandEcho(raw, command), nil
}

func (s *sshSession) readUntilPrompt(timeout time.Duration) (string, error) {
	var b strings.Builder
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case chunk, ok := <-s.out:
			if !ok {
				return "", util.NewTransportError(s.device, "send", fmt.Errorf("session closed: %s", strings.TrimSpace(s.tail(b.String()))))
			}
			b.Write(chunk)
			if s.drv.promptRE.MatchString(s.tail(b.String())) {
				return b.String(), nil
			}
		case <-deadline.C:
			return "", util.NewTransportError(s.device, "send", fmt.Errorf("read timeout after %s", timeout))
		}
	}
}

// tail returns the last line of accumulated output for prompt matching.
func (s *sshSession) tail(out string) string {
	if idx := strings.LastIndexByte(strings.TrimRight(out, "\r\n "), '\n'); idx >= 0 {
		return out[idx+1:]
	}
	return out
}

func (s *sshSession) Platform() inventory.Platform { return s.platform }

// Close tears down the shell, the device connection, and the bastion
// connection if one was used. Closing also unblocks an in-flight read,
// which is how in-flight command I/O is interrupted on cancellation.
func (s *sshSession) Close() error {
	s.closeOnce.Do(func() {
		s.session.Close()
		s.closeErr = s.client.Close()
		if s.bastion != nil {
			s.bastion.Close()
		}
	})
	return s.closeErr
}
