// Package printer drives the front-desk receipt and label printers.
package printer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type Kind string

const (
	KindSlip  Kind = "slip"
	KindLabel Kind = "label"
)

func ParseKind(raw string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindSlip:
		return KindSlip, true
	case KindLabel:
		return KindLabel, true
	default:
		return "", false
	}
}

// Job is one document to print: a SlipJob or a LabelJob.
type Job interface {
	Kind() Kind
}

// SlipJob is the waiting ticket handed to the patient on arrival.
type SlipJob struct {
	Number   string    `json:"number"`
	IssuedAt time.Time `json:"issued_at"`
}

func (SlipJob) Kind() Kind { return KindSlip }

// LabelJob is the identification label printed once the patient is registered.
type LabelJob struct {
	Name       string `json:"name"`
	NationalID string `json:"national_id"`
	Number     string `json:"number"`
}

func (LabelJob) Kind() Kind { return KindLabel }

type Printer interface {
	Print(ctx context.Context, job Job) error
}

// Options selects and configures a driver.
type Options struct {
	Driver   string
	Addr     string
	URL      string
	Token    string
	Timeout  time.Duration
	Location *time.Location
	Logger   *slog.Logger
	Client   *http.Client
}

const (
	defaultPort          = "9100"
	defaultDeviceTimeout = 5 * time.Second
)

// New builds the named device. The result serializes jobs and bounds each one
// by opts.Timeout.
func New(name string, opts Options) (Printer, error) {
	driver, err := newDriver(name, opts)
	if err != nil {
		return nil, err
	}
	return Serialize(driver, opts.Timeout), nil
}

func newDriver(name string, opts Options) (Printer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", "log":
		return logPrinter{name: name, logger: logger}, nil
	case "noop":
		return noopPrinter{}, nil
	case "fail":
		return failPrinter{name: name}, nil
	case "escpos":
		addr, err := deviceAddr(name, opts.Addr)
		if err != nil {
			return nil, err
		}
		return &tcpPrinter{name: name, addr: addr, timeout: deviceTimeout(opts.Timeout), render: func(job Job) ([]byte, error) {
			return renderESCPOS(job, loc)
		}}, nil
	case "zpl":
		addr, err := deviceAddr(name, opts.Addr)
		if err != nil {
			return nil, err
		}
		return &tcpPrinter{name: name, addr: addr, timeout: deviceTimeout(opts.Timeout), render: func(job Job) ([]byte, error) {
			return renderZPL(job, loc)
		}}, nil
	case "webhook":
		if opts.URL == "" {
			return nil, fmt.Errorf("printer %s: webhook driver needs a url", name)
		}
		client := opts.Client
		if client == nil {
			client = &http.Client{Timeout: 5 * time.Second}
		}
		return webhookPrinter{name: name, url: opts.URL, token: opts.Token, client: client}, nil
	default:
		if strings.HasPrefix(opts.Driver, "http://") || strings.HasPrefix(opts.Driver, "https://") {
			return webhookPrinter{name: name, url: opts.Driver, token: opts.Token, client: &http.Client{Timeout: 5 * time.Second}}, nil
		}
		return nil, fmt.Errorf("printer %s: unknown driver %q", name, opts.Driver)
	}
}

// deviceTimeout bounds a raw socket job even when no print timeout is configured.
func deviceTimeout(configured time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return defaultDeviceTimeout
}

func deviceAddr(name, addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("printer %s: address is required", name)
	}
	if !strings.Contains(addr, ":") {
		addr += ":" + defaultPort
	}
	return addr, nil
}
