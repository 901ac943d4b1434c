package printer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Lister enumerates installed printers.
type Lister interface {
	List(ctx context.Context) ([]Detail, error)
}

// RunFunc runs an external command and returns its standard output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// OSLister asks the OS print system: CUPS lpstat on Unix, Win32_Printer on
// Windows.
type OSLister struct {
	GOOS string
	Run  RunFunc
}

// NewOSLister creates a lister for the running OS.
func NewOSLister() *OSLister {
	return &OSLister{GOOS: runtime.GOOS, Run: execRun}
}

// List implements Lister.
func (l *OSLister) List(ctx context.Context) ([]Detail, error) {
	run := l.Run
	if run == nil {
		run = execRun
	}
	if l.GOOS == "windows" {
		out, err := run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command",
			"Get-CimInstance Win32_Printer | Select-Object Name,PortName,DriverName,PrinterStatus,Default | ConvertTo-Json -Compress")
		if err != nil {
			return nil, fmt.Errorf("enumerating printers: %w", err)
		}
		return parseWin32(out)
	}

	out, err := run(ctx, "lpstat", "-p", "-d", "-v")
	if err != nil {
		// lpstat exits non-zero when no destinations exist
		if len(bytes.TrimSpace(out)) == 0 {
			return nil, fmt.Errorf("enumerating printers: %w", err)
		}
	}
	return parseLpstat(out), nil
}

func parseLpstat(out []byte) []Detail {
	var (
		order   []string
		byName  = map[string]*Detail{}
		deflt   string
		devices = map[string]string{}
	)
	get := func(name string) *Detail {
		if d, ok := byName[name]; ok {
			return d
		}
		d := &Detail{Name: name}
		byName[name] = d
		order = append(order, name)
		return d
	}

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "printer "):
			fields := strings.Fields(line)
			if len(fields) < 3 {
				continue
			}
			d := get(fields[1])
			switch {
			case strings.Contains(line, "disabled"):
				d.Status = "disabled"
			case strings.Contains(line, "printing"):
				d.Status = "printing"
			default:
				d.Status = "idle"
			}
		case strings.HasPrefix(line, "system default destination:"):
			deflt = strings.TrimSpace(strings.TrimPrefix(line, "system default destination:"))
		case strings.HasPrefix(line, "device for "):
			rest := strings.TrimPrefix(line, "device for ")
			name, uri, ok := strings.Cut(rest, ":")
			if ok {
				devices[name] = strings.TrimSpace(uri)
			}
		}
	}

	details := make([]Detail, 0, len(order))
	for _, name := range order {
		d := byName[name]
		d.Port = devices[name]
		d.IsDefault = name == deflt
		classify(d)
		details = append(details, *d)
	}
	return details
}

type win32Printer struct {
	Name          string `json:"Name"`
	PortName      string `json:"PortName"`
	DriverName    string `json:"DriverName"`
	PrinterStatus int    `json:"PrinterStatus"`
	Default       bool   `json:"Default"`
}

// win32Status maps Win32_Printer.PrinterStatus.
var win32Status = map[int]string{
	1: "other",
	2: "unknown",
	3: "idle",
	4: "printing",
	5: "warmup",
	6: "stopped",
	7: "offline",
}

func parseWin32(out []byte) ([]Detail, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}
	var rows []win32Printer
	if out[0] == '{' {
		var one win32Printer
		if err := json.Unmarshal(out, &one); err != nil {
			return nil, fmt.Errorf("parsing printer list: %w", err)
		}
		rows = []win32Printer{one}
	} else if err := json.Unmarshal(out, &rows); err != nil {
		return nil, fmt.Errorf("parsing printer list: %w", err)
	}

	details := make([]Detail, len(rows))
	for i, r := range rows {
		status, ok := win32Status[r.PrinterStatus]
		if !ok {
			status = "unknown"
		}
		details[i] = Detail{
			Name:      r.Name,
			Port:      r.PortName,
			Driver:    r.DriverName,
			Status:    status,
			IsDefault: r.Default,
		}
		classify(&details[i])
	}
	return details, nil
}

var (
	virtualHints = []string{"pdf", "xps", "fax", "onenote", "microsoft print to", "send to", "file:", "portprompt", "nul:"}
	thermalHints = []string{"pos-", "pos_", "pos58", "pos80", "thermal", "receipt", "tm-", "tm_", "tsp", "xprinter", "58mm", "80mm", "gp-58", "pt-210", "ec-pm", "bixolon", "citizen", "rongta"}
)

func classify(d *Detail) {
	hay := strings.ToLower(d.Name + " " + d.Driver + " " + d.Port)
	for _, h := range virtualHints {
		if strings.Contains(hay, h) {
			d.IsVirtual = true
			return
		}
	}
	for _, h := range thermalHints {
		if strings.Contains(hay, h) {
			d.IsThermal = true
			return
		}
	}
}

// FilterThermalPrinters keeps printers that look like receipt printers.
func FilterThermalPrinters(all []Detail) []Detail {
	var out []Detail
	for _, p := range all {
		if p.IsThermal && !p.IsVirtual {
			out = append(out, p)
		}
	}
	return out
}

// FilterPhysicalPrinters drops virtual printers.
func FilterPhysicalPrinters(all []Detail) []Detail {
	var out []Detail
	for _, p := range all {
		if !p.IsVirtual {
			out = append(out, p)
		}
	}
	return out
}
