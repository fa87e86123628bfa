package printer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

var ErrPrinterFailure = errors.New("printer failure")

type logPrinter struct {
	name   string
	logger *slog.Logger
}

func (p logPrinter) Print(ctx context.Context, job Job) error {
	p.logger.InfoContext(ctx, "print job", "printer", p.name, "kind", job.Kind(), "job", job)
	return nil
}

type noopPrinter struct{}

func (noopPrinter) Print(ctx context.Context, job Job) error {
	return nil
}

type failPrinter struct {
	name string
}

func (p failPrinter) Print(ctx context.Context, job Job) error {
	return fmt.Errorf("%s: %w", p.name, ErrPrinterFailure)
}

// tcpPrinter streams a rendered document to a raw socket (JetDirect style).
type tcpPrinter struct {
	name    string
	addr    string
	render  func(Job) ([]byte, error)
	timeout time.Duration
	dialer  net.Dialer
}

func (p *tcpPrinter) Print(ctx context.Context, job Job) error {
	payload, err := p.render(job)
	if err != nil {
		return fmt.Errorf("%s: render %s: %w", p.name, job.Kind(), err)
	}
	// A device that never answers must not hold the print slot forever.
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(p.timeout)
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("%s: dial %s: %w", p.name, p.addr, err)
	}
	defer conn.Close()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("%s: write: %w", p.name, err)
	}
	return nil
}

type webhookPrinter struct {
	name   string
	url    string
	token  string
	client *http.Client
}

type webhookPayload struct {
	Printer string `json:"printer"`
	Kind    Kind   `json:"kind"`
	Job     Job    `json:"job"`
}

func (p webhookPrinter) Print(ctx context.Context, job Job) error {
	body, err := json.Marshal(webhookPayload{Printer: p.name, Kind: job.Kind(), Job: job})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: bridge rejected job with status %d: %w", p.name, resp.StatusCode, ErrPrinterFailure)
	}
	return nil
}
