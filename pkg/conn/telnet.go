package conn

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/netman-network/netman/pkg/inventory"
	"github.com/netman-network/netman/pkg/jumphost"
	"github.com/netman-network/netman/pkg/util"
)

// TelnetDialer establishes plain-TCP CLI sessions for devices whose
// inventory entry declares transport=telnet. Same contract as SSH: prompt
// driven reads, explicit errors, jumphost tunnelling when enabled.
type TelnetDialer struct {
	Jumphost func() *jumphost.Config
}

// telnet option negotiation bytes
const (
	telnetIAC  = 255
	telnetDO   = 253
	telnetDONT = 254
	telnetWILL = 251
	telnetWONT = 252
	telnetSB   = 250
	telnetSE   = 240
)

// Dial connects and walks the Username/Password login dialogue.
func (d *TelnetDialer) Dial(device *inventory.Device, password string, connectTimeout time.Duration) (Session, error) {
	addr := net.JoinHostPort(device.Host, fmt.Sprintf("%d", device.Port))

	var raw net.Conn
	var bastion *ssh.Client
	var err error

	if d.Jumphost != nil {
		if jh := d.Jumphost(); jh != nil && jh.Enabled {
			bastion, raw, err = telnetViaJumphost(jh, addr, connectTimeout)
		} else {
			raw, err = net.DialTimeout("tcp", addr, connectTimeout)
		}
	} else {
		raw, err = net.DialTimeout("tcp", addr, connectTimeout)
	}
	if err != nil {
		return nil, util.NewTransportError(device.Name, "connect", err)
	}

	s := &telnetSession{
		conn:    raw,
		bastion: bastion,
		device:  device.Name,
		drv:     driverFor(device.Platform),
	}

	if err := s.login(device, password, connectTimeout); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.setup(device, connectTimeout); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func telnetViaJumphost(jh *jumphost.Config, deviceAddr string, timeout time.Duration) (*ssh.Client, net.Conn, error) {
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
	return bastion, tunnel, nil
}

type telnetSession struct {
	conn    net.Conn
	bastion *ssh.Client

	device   string
	drv      *driver
	platform inventory.Platform

	mu        sync.Mutex
	closeOnce sync.Once
}

// login answers the Username/Password prompts. Devices without local auth
// jump straight to the exec prompt, which is also accepted.
func (s *telnetSession) login(device *inventory.Device, password string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		out, err := s.readChunk(deadline)
		if err != nil {
			return util.NewTransportError(s.device, "connect", err)
		}
		lower := strings.ToLower(out)
		switch {
		case strings.Contains(lower, "username:") || strings.Contains(lower, "login:"):
			if _, err := s.conn.Write([]byte(device.Username + "\n")); err != nil {
				return util.NewTransportError(s.device, "connect", err)
			}
		case strings.Contains(lower, "password:"):
			if _, err := s.conn.Write([]byte(password + "\n")); err != nil {
				return util.NewTransportError(s.device, "connect", err)
			}
		case s.drv.promptRE.MatchString(out):
			return nil
		case strings.Contains(lower, "authentication failed") || strings.Contains(lower, "login invalid"):
			return fmt.Errorf("telnet login to %s rejected: %w", s.device, util.ErrAuth)
		}
		if time.Now().After(deadline) {
			return util.NewTransportError(s.device, "connect", fmt.Errorf("login timeout after %s", timeout))
		}
	}
}

func (s *telnetSession) setup(device *inventory.Device, timeout time.Duration) error {
	if device.Platform == inventory.PlatformAuto {
		banner, err := s.Send("show version", timeout)
		if err != nil {
			return err
		}
		s.platform = identifyPlatform(banner)
		s.drv = driverFor(s.platform)
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

// readChunk reads one network read's worth of output with IAC negotiation
// stripped, refusing all option requests.
func (s *telnetSession) readChunk(deadline time.Time) (string, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	buf := make([]byte, 8*1024)
	n, err := s.conn.Read(buf)
	if err != nil {
		return "", err
	}
	return s.negotiate(buf[:n])
}

// negotiate strips telnet IAC sequences from data, answering DO with WONT
// and WILL with DONT.
func (s *telnetSession) negotiate(data []byte) (string, error) {
	var out []byte
	for i := 0; i < len(data); i++ {
		if data[i] != telnetIAC {
			out = append(out, data[i])
			continue
		}
		if i+1 >= len(data) {
			break
		}
		switch data[i+1] {
		case telnetDO:
			if i+2 < len(data) {
				s.conn.Write([]byte{telnetIAC, telnetWONT, data[i+2]})
				i += 2
			}
		case telnetWILL:
			if i+2 < len(data) {
				s.conn.Write([]byte{telnetIAC, telnetDONT, data[i+2]})
				i += 2
			}
		case telnetDONT, telnetWONT:
			i += 2
		case telnetSB:
			// Skip subnegotiation through IAC SE.
			for i += 2; i+1 < len(data); i++ {
				if data[i] == telnetIAC && data[i+1] == telnetSE {
					i++
					break
				}
			}
		default:
			i++
		}
	}
	return string(out), nil
}

// Send writes the command and reads until the prompt or readTimeout.
func (s *telnetSession) Send(command string, readTimeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.Write([]byte(command + "\n")); err != nil {
		return "", util.NewTransportError(s.device, "send", err)
	}

	deadline := time.Now().Add(readTimeout)
	var b strings.Builder
	for {
		out, err := s.readChunk(deadline)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return "", util.NewTransportError(s.device, "send", fmt.Errorf("read timeout after %s", readTimeout))
			}
			return "", util.NewTransportError(s.device, "send", err)
		}
		b.WriteString(out)
		tail := b.String()
		if idx := strings.LastIndexByte(strings.TrimRight(tail, "\r\n "), '\n'); idx >= 0 {
			tail = tail[idx+1:]
		}
		if s.drv.promptRE.MatchString(tail) {
			return stripCommandEcho(b.String(), command), nil
		}
	}
}

func (s *telnetSession) Platform() inventory.Platform { return s.platform }

func (s *telnetSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
		if s.bastion != nil {
			s.bastion.Close()
		}
	})
	return err
}
