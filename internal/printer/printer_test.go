package printer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewRejectsUnknownDriver(t *testing.T) {
	if _, err := New("slip", Options{Driver: "laser"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := New("slip", Options{Driver: "escpos"}); err == nil {
		t.Fatalf("expected error for escpos without address")
	}
	if _, err := New("label", Options{Driver: "webhook"}); err == nil {
		t.Fatalf("expected error for webhook without url")
	}
}

func TestDeviceAddrDefaultsPort(t *testing.T) {
	addr, err := deviceAddr("slip", "10.0.0.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "10.0.0.5:9100" {
		t.Fatalf("expected default port, got %s", addr)
	}
}

func TestFailDriverReportsFailure(t *testing.T) {
	p, err := New("slip", Options{Driver: "fail"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := p.Print(context.Background(), SlipJob{Number: "G001"}); !errors.Is(err, ErrPrinterFailure) {
		t.Fatalf("expected printer failure, got %v", err)
	}
}

func TestESCPOSOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	p, err := New("slip", Options{Driver: "escpos", Addr: ln.Addr().String(), Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	issued := time.Date(2026, 3, 10, 14, 5, 0, 0, time.UTC)
	if err := p.Print(context.Background(), SlipJob{Number: "G007", IssuedAt: issued}); err != nil {
		t.Fatalf("print: %v", err)
	}

	select {
	case data := <-received:
		if !bytes.HasPrefix(data, escInit) {
			t.Fatalf("expected ESC @ prefix")
		}
		for _, want := range []string{"SENHA DE ATENDIMENTO", "Senha: G007", "Data: 10/03/2026 14:05"} {
			if !bytes.Contains(data, []byte(want)) {
				t.Fatalf("expected %q in payload", want)
			}
		}
		if !bytes.HasSuffix(data, gsPartialCut) {
			t.Fatalf("expected cut command at the end")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("printer received nothing")
	}
}

func TestTCPDriverDefaultsDeviceTimeout(t *testing.T) {
	p, err := newDriver("slip", Options{Driver: "escpos", Addr: "10.0.0.5"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tcp, ok := p.(*tcpPrinter)
	if !ok {
		t.Fatalf("expected a tcp printer, got %T", p)
	}
	if tcp.timeout != defaultDeviceTimeout {
		t.Fatalf("expected %s, got %s", defaultDeviceTimeout, tcp.timeout)
	}
}

func TestTCPDriverGivesUpOnStalledDevice(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	// Accept but never read, like a printer with a jammed buffer.
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()
	defer func() {
		select {
		case conn := <-accepted:
			conn.Close()
		default:
		}
	}()

	payload := make([]byte, 32<<20)
	p := &tcpPrinter{
		name:    "slip",
		addr:    ln.Addr().String(),
		timeout: 200 * time.Millisecond,
		render:  func(Job) ([]byte, error) { return payload, nil },
	}

	start := time.Now()
	if err := p.Print(context.Background(), SlipJob{Number: "G001"}); err == nil {
		t.Fatalf("expected the stalled write to fail")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("expected the job to be bounded, took %s", elapsed)
	}
}

func TestESCPOSEncodesCodePage850(t *testing.T) {
	data, err := renderESCPOS(LabelJob{Name: "João", NationalID: "111", Number: "G001"}, time.UTC)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	// ã is 0xC6 in PC850.
	if !bytes.Contains(data, []byte{'J', 'o', 0xc6, 'o'}) {
		t.Fatalf("expected PC850-encoded name, got %q", data)
	}
}

func TestZPLLabel(t *testing.T) {
	data, err := renderZPL(LabelJob{Name: "Ana^Souza", NationalID: "111", Number: "G001"}, time.UTC)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	out := string(data)
	if !bytes.HasPrefix(data, []byte("^XA")) || !bytes.Contains(data, []byte("^XZ")) {
		t.Fatalf("expected ZPL envelope, got %q", out)
	}
	if !bytes.Contains(data, []byte("^FDNome: Ana Souza^FS")) {
		t.Fatalf("expected escaped name field, got %q", out)
	}
}

func TestWebhookDriver(t *testing.T) {
	var got webhookBody
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p, err := New("label", Options{Driver: "webhook", URL: server.URL, Token: "secret"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := p.Print(context.Background(), LabelJob{Name: "Ana", NationalID: "111", Number: "G001"}); err != nil {
		t.Fatalf("print: %v", err)
	}
	if auth != "Bearer secret" {
		t.Fatalf("expected bearer token, got %q", auth)
	}
	if got.Kind != KindLabel || got.Job.Number != "G001" || got.Job.Name != "Ana" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestWebhookDriverRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p, _ := New("label", Options{Driver: "webhook", URL: server.URL})
	if err := p.Print(context.Background(), LabelJob{Number: "G001"}); !errors.Is(err, ErrPrinterFailure) {
		t.Fatalf("expected printer failure, got %v", err)
	}
}

func TestSerializeAdmitsOneJobAtATime(t *testing.T) {
	counter := &inFlightCounter{}
	p := Serialize(counter, 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Print(context.Background(), SlipJob{Number: "G001"})
		}()
	}
	wg.Wait()
	if counter.max.Load() != 1 {
		t.Fatalf("expected at most one job in flight, saw %d", counter.max.Load())
	}
	if counter.calls.Load() != 10 {
		t.Fatalf("expected 10 jobs, got %d", counter.calls.Load())
	}
}

func TestSerializeTimeout(t *testing.T) {
	p := Serialize(blockingPrinter{}, 20*time.Millisecond)
	err := p.Print(context.Background(), SlipJob{Number: "G001"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type webhookBody struct {
	Printer string `json:"printer"`
	Kind    Kind   `json:"kind"`
	Job     struct {
		Number string `json:"number"`
		Name   string `json:"name"`
	} `json:"job"`
}

type inFlightCounter struct {
	active atomic.Int32
	max    atomic.Int32
	calls  atomic.Int32
}

func (p *inFlightCounter) Print(ctx context.Context, job Job) error {
	n := p.active.Add(1)
	for {
		current := p.max.Load()
		if n <= current || p.max.CompareAndSwap(current, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	p.active.Add(-1)
	p.calls.Add(1)
	return nil
}

type blockingPrinter struct{}

func (blockingPrinter) Print(ctx context.Context, job Job) error {
	<-ctx.Done()
	return ctx.Err()
}
