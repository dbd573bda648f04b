package conn

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/netman-network/netman/pkg/jumphost"
)

// ProbeJumphost performs a live connect+authenticate+close against the
// candidate config. No command is executed. Used as the precondition for
// persisting a new jumphost config.
func ProbeJumphost(cfg jumphost.Config) error {
	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	client, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return err
	}
	return client.Close()
}
