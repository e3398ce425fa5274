// Package transporttest runs an in-process SSH server that behaves like a
// Crestron processor: a factory account that walks through the admin
// creation wizard, and an admin shell that answers commands.
package transporttest

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// Device is a fake Crestron processor listening on localhost.
type Device struct {
	Hostname        string            // Shown in the admin prompt as "<Hostname>>"
	FactoryUser     string            // Factory default account
	FactoryPassword string            // Factory default password
	SkipWizard      bool              // Factory logins go straight to the admin shell
	RejectSetup     string            // If set, printed instead of confirming account creation
	Responses       map[string]string // Command → response text

	mu       sync.Mutex
	admins   map[string]string
	logins   []string
	listener net.Listener
	config   *ssh.ServerConfig
	wg       sync.WaitGroup
}

// NewDevice returns a factory-fresh device with a few stock command responses.
func NewDevice() *Device {
	return &Device{
		Hostname:    "CRESTRON",
		FactoryUser: "Crestron",
		Responses: map[string]string{
			"ver":      "CP4 Cntrl Eng [v2.8001.00123 (Jan 10 2025), #00A1B2C3] @E-00107fa1b2c3",
			"hostname": "Host Name: CRESTRON",
			"ipconfig": "Ethernet Adapter [LAN]:\r\n  IP Address . . . . : 10.0.1.36",
			"uptime":   "The system has been running for 3 days, 4 hours, 12 minutes",
			"whoami":   "admin",
			"silent":   "",
		},
		admins: map[string]string{},
	}
}

// AddAdmin registers an admin account, marking the device as provisioned.
func (d *Device) AddAdmin(username, password string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.admins[username] = password
}

// Provisioned reports whether any admin account exists.
func (d *Device) Provisioned() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.admins) > 0
}

// Logins returns the usernames of every authentication attempt, in order.
func (d *Device) Logins() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.logins...)
}

// Start listens on a random localhost port and returns its address.
func (d *Device) Start() (string, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return "", fmt.Errorf("host key signer: %w", err)
	}

	d.config = &ssh.ServerConfig{PasswordCallback: d.checkPassword}
	d.config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}
	d.listener = listener

	d.wg.Add(1)
	go d.acceptLoop()
	return listener.Addr().String(), nil
}

// Close stops accepting connections.
func (d *Device) Close() error {
	if d.listener == nil {
		return nil
	}
	err := d.listener.Close()
	d.wg.Wait()
	return err
}

func (d *Device) checkPassword(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logins = append(d.logins, c.User())

	if want, ok := d.admins[c.User()]; ok && want == string(pass) {
		return &ssh.Permissions{Extensions: map[string]string{"role": "admin"}}, nil
	}
	if c.User() == d.FactoryUser && string(pass) == d.FactoryPassword && (len(d.admins) == 0 || d.SkipWizard) {
		return &ssh.Permissions{Extensions: map[string]string{"role": "factory"}}, nil
	}
	return nil, fmt.Errorf("password rejected for %q", c.User())
}

func (d *Device) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}
		go d.serve(conn)
	}
}

func (d *Device) serve(conn net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, d.config)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	role := sconn.Permissions.Extensions["role"]
	for newCh := range chans {
		if t := newCh.ChannelType(); t != "session" {
			newCh.Reject(ssh.UnknownChannelType, fmt.Sprintf("unknown channel type: %v", t))
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func(in <-chan *ssh.Request) {
			for req := range in {
				switch req.Type {
				case "pty-req", "shell", "window-change":
					req.Reply(true, nil)
				default:
					req.Reply(false, nil)
				}
			}
		}(chReqs)

		go func() {
			defer ch.Close()
			if role == "factory" && !d.SkipWizard {
				d.runWizard(ch)
				return
			}
			d.runShell(ch)
		}()
	}
}

// runWizard walks the first-boot admin creation prompts.
func (d *Device) runWizard(ch ssh.Channel) {
	t := term.NewTerminal(ch, "")
	if _, err := t.ReadLine(); err != nil {
		return
	}
	fmt.Fprint(t, "\r\nPlease create a local administrator account.\r\n")

	t.SetPrompt("Username: ")
	username, err := t.ReadLine()
	if err != nil {
		return
	}
	password, err := t.ReadPassword("Password: ")
	if err != nil {
		return
	}
	verify, err := t.ReadPassword("Verify password: ")
	if err != nil {
		return
	}

	switch {
	case password != verify:
		fmt.Fprint(t, "Passwords do not match. Account creation failed.\r\n")
	case d.RejectSetup != "":
		fmt.Fprintf(t, "%s\r\n", d.RejectSetup)
	default:
		d.AddAdmin(strings.TrimSpace(username), password)
		fmt.Fprint(t, "Account successfully created.\r\n")
	}
}

// runShell answers commands until the client leaves.
func (d *Device) runShell(ch ssh.Channel) {
	t := term.NewTerminal(ch, d.Hostname+">")
	for {
		line, err := t.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		switch strings.ToLower(cmd) {
		case "":
			continue
		case "exit", "bye":
			return
		}

		d.mu.Lock()
		resp, ok := d.Responses[strings.ToLower(cmd)]
		d.mu.Unlock()
		if !ok {
			resp = "Bad or Incomplete Command"
		}
		if resp != "" {
			fmt.Fprintf(t, "%s\r\n", resp)
		}
	}
}
