package daemon

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"gitlab.com/tinyland/lab/netpulse/pkg/quality"
)

// Commands understood on the control socket.
const (
	CmdStatus  = "STATUS"
	CmdRefresh = "REFRESH"
	CmdHealth  = "HEALTH"
	CmdQuit    = "QUIT"
)

// ipcTimeout bounds a whole request on either side of the socket.
const ipcTimeout = 5 * time.Second

// ErrDaemonRunning is returned by Start when another daemon answers on the
// socket path.
var ErrDaemonRunning = errors.New("daemon already listening on socket")

// IPCHandler answers one control command with a JSON document.
type IPCHandler interface {
	HandleCommand(cmd string, args []string) (string, error)
}

// ipcError is the reply body for a failed command.
type ipcError struct {
	Error string `json:"error"`
}

// IPCServer is the daemon's control socket. Each connection carries one
// request line ("REFRESH", "STATUS", ...) and gets one JSON line back.
type IPCServer struct {
	socketPath string
	handler    IPCHandler
	listener   net.Listener
	conns      sync.WaitGroup
	stopOnce   sync.Once
}

// NewIPCServer returns a server for socketPath. Nothing is bound until Start.
func NewIPCServer(socketPath string, handler IPCHandler) *IPCServer {
	return &IPCServer{socketPath: socketPath, handler: handler}
}

// Start binds the socket (owner-only permissions) and begins serving. A
// leftover socket file from a crashed daemon is replaced; a live one is not.
func (s *IPCServer) Start() error {
	if conn, err := net.DialTimeout("unix", s.socketPath, 100*time.Millisecond); err == nil {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrDaemonRunning, s.socketPath)
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = ln

	s.conns.Add(1)
	go s.serve()
	return nil
}

// Stop unbinds the socket and waits for in-flight requests. Repeated calls
// are no-ops.
func (s *IPCServer) Stop() {
	s.stopOnce.Do(func() {
		if s.listener == nil {
			return
		}
		s.listener.Close()
		s.conns.Wait()
		os.Remove(s.socketPath)
	})
}

func (s *IPCServer) serve() {
	defer s.conns.Done()
	for {
		conn, err := s.listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.answer(conn)
		}()
	}
}

func (s *IPCServer) answer(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ipcTimeout))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}
	cmd, args := parseIPCCommand(line)
	if cmd == "" {
		return
	}

	var reply []byte
	body, herr := s.handler.HandleCommand(cmd, args)
	if herr != nil {
		reply, _ = json.Marshal(ipcError{Error: herr.Error()})
	} else {
		reply = oneLine(body)
	}
	conn.Write(append(reply, '\n'))
}

// oneLine compacts a JSON body so it fits the line protocol. Bodies that
// are not JSON have their newlines flattened instead.
func oneLine(body string) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(body)); err != nil {
		return []byte(strings.ReplaceAll(body, "\n", " "))
	}
	return buf.Bytes()
}

// parseIPCCommand upper-cases the first word of a request line and returns
// the rest as arguments. A blank line yields an empty command.
func parseIPCCommand(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToUpper(fields[0]), fields[1:]
}

// IPCClient talks to a running daemon over its control socket.
type IPCClient struct {
	socketPath string
	timeout    time.Duration
}

// NewIPCClient returns a client for the daemon at socketPath.
func NewIPCClient(socketPath string) *IPCClient {
	return &IPCClient{socketPath: socketPath, timeout: ipcTimeout}
}

// SendCommand sends one request line and returns the raw reply line. An
// error reply from the daemon is returned as text, not as an error.
func (c *IPCClient) SendCommand(cmd string) (string, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return "", fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := fmt.Fprintf(conn, "%s\n", cmd); err != nil {
		return "", fmt.Errorf("send %s: %w", cmd, err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if reply = strings.TrimSuffix(reply, "\n"); reply == "" {
		if err != nil {
			return "", fmt.Errorf("read reply: %w", err)
		}
		return "", errors.New("empty reply from daemon")
	}
	return reply, nil
}

// call sends cmd and decodes the reply into out, turning an error reply
// into a Go error.
func (c *IPCClient) call(cmd string, out any) error {
	reply, err := c.SendCommand(cmd)
	if err != nil {
		return err
	}
	var failed ipcError
	if json.Unmarshal([]byte(reply), &failed) == nil && failed.Error != "" {
		return fmt.Errorf("daemon: %s", failed.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(reply), out); err != nil {
		return fmt.Errorf("decode %s reply: %w", cmd, err)
	}
	return nil
}

// Status returns the daemon's current snapshot.
func (c *IPCClient) Status() (quality.Snapshot, error) {
	var snap quality.Snapshot
	err := c.call(CmdStatus, &snap)
	return snap, err
}

// Refresh asks the daemon for a probe.
func (c *IPCClient) Refresh() error {
	return c.call(CmdRefresh, nil)
}
