package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Method names accepted by NewMethods.
const (
	MethodSpooler = "spooler"
	MethodPort    = "port"
	MethodRaw     = "raw"
)

// DefaultRawPort is the usual JetDirect/AppSocket port of network printers.
const DefaultRawPort = "9100"

// Template placeholders.
const (
	printerToken = "{printer}"
	fileToken    = "{file}"
)

// DefaultSpoolerCommand submits raw bytes through the OS print queue.
func DefaultSpoolerCommand() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C", "copy", "/B", fileToken, `\\localhost\` + printerToken}
	}
	return []string{"lp", "-d", printerToken, "-o", "raw"}
}

// DefaultPortPath is the device or share the port method writes to.
func DefaultPortPath() string {
	if runtime.GOOS == "windows" {
		return `\\localhost\` + printerToken
	}
	return "/dev/usb/lp0"
}

// Spooler hands the payload to the OS print command. The command receives the
// bytes on stdin unless one argument contains {file}, in which case the bytes
// go through a temporary file.
type Spooler struct {
	Command []string
}

// Name implements Method.
func (s Spooler) Name() string { return MethodSpooler }

// Deliver implements Method.
func (s Spooler) Deliver(ctx context.Context, printer string, data []byte) error {
	if len(s.Command) == 0 {
		return errors.New("spooler command not configured")
	}

	args := make([]string, len(s.Command))
	var tmpPath string
	for i, a := range s.Command {
		a = strings.ReplaceAll(a, printerToken, printer)
		if strings.Contains(a, fileToken) {
			if tmpPath == "" {
				f, err := os.CreateTemp("", "receipt-*.bin")
				if err != nil {
					return fmt.Errorf("temp file: %w", err)
				}
				tmpPath = f.Name()
				defer func() { _ = os.Remove(tmpPath) }()
				_, werr := f.Write(data)
				cerr := f.Close()
				if err := errors.Join(werr, cerr); err != nil {
					return fmt.Errorf("temp file: %w", err)
				}
			}
			a = strings.ReplaceAll(a, fileToken, tmpPath)
		}
		args[i] = a
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if tmpPath == "" {
		cmd.Stdin = bytes.NewReader(data)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", args[0], err, msg)
		}
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return nil
}

// Port writes the payload directly to a device path or printer share. Path may
// contain {printer}.
type Port struct {
	Path string
}

// Name implements Method.
func (p Port) Name() string { return MethodPort }

// Deliver implements Method. File writes cannot be interrupted; the
// dispatcher timeout bounds them.
func (p Port) Deliver(ctx context.Context, printer string, data []byte) error {
	if p.Path == "" {
		return errors.New("port path not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	path := strings.ReplaceAll(p.Path, printerToken, printer)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Raw streams the payload over TCP to a network printer. Addresses maps a
// printer name to host[:port]; a printer name that already is a host is used
// as is.
type Raw struct {
	Addresses map[string]string
	// Settle is how long to keep the connection open after writing so the
	// printer drains its buffer before the socket closes.
	Settle time.Duration
}

// Name implements Method.
func (r Raw) Name() string { return MethodRaw }

// Address resolves the TCP endpoint of printer.
func (r Raw) Address(printer string) (string, error) {
	addr, ok := r.Addresses[printer]
	if !ok {
		// config keys arrive lowercased
		addr, ok = r.Addresses[strings.ToLower(printer)]
	}
	if !ok {
		if !strings.ContainsAny(printer, ".:") {
			return "", fmt.Errorf("no network address for printer %q", printer)
		}
		addr = printer
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultRawPort)
	}
	return addr, nil
}

// Deliver implements Method.
func (r Raw) Deliver(ctx context.Context, printer string, data []byte) error {
	addr, err := r.Address(printer)
	if err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	if r.Settle > 0 {
		select {
		case <-time.After(r.Settle):
		case <-ctx.Done():
		}
	}
	return nil
}

// Settings selects and parameterizes the delivery chain.
type Settings struct {
	Methods        []string
	SpoolerCommand []string
	PortPath       string
	RawAddresses   map[string]string
}

// NewMethods builds the ordered method list named in s.Methods.
func NewMethods(s Settings) ([]Method, error) {
	if len(s.Methods) == 0 {
		return nil, ErrNoMethods
	}
	methods := make([]Method, 0, len(s.Methods))
	for _, name := range s.Methods {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case MethodSpooler:
			cmd := s.SpoolerCommand
			if len(cmd) == 0 {
				cmd = DefaultSpoolerCommand()
			}
			methods = append(methods, Spooler{Command: cmd})
		case MethodPort:
			path := s.PortPath
			if path == "" {
				path = DefaultPortPath()
			}
			methods = append(methods, Port{Path: path})
		case MethodRaw:
			methods = append(methods, Raw{Addresses: s.RawAddresses, Settle: 500 * time.Millisecond})
		default:
			return nil, fmt.Errorf("unknown delivery method %q", name)
		}
	}
	return methods, nil
}
