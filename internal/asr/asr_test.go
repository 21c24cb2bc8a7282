package asr

import (
	"bufio"
	"context"
	"io"
	"testing"

	"typevoice/internal/corerr"
)

// pipeProc is an in-memory proc backed by an io.Pipe, letting tests act as
// the runner on the other end of stdin/stdout.
type pipeProc struct {
	stdinR  *io.PipeReader
	stdinW  *bufio.Writer
	stdoutR *bufio.Reader
	stdoutW *io.PipeWriter
	killed  bool
}

func newPipeProc() *pipeProc {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	return &pipeProc{
		stdinR:  inR,
		stdinW:  bufio.NewWriter(inW),
		stdoutR: bufio.NewReader(outR),
		stdoutW: outW,
	}
}

func (p *pipeProc) Stdin() *bufio.Writer  { return p.stdinW }
func (p *pipeProc) Stdout() *bufio.Reader { return p.stdoutR }
func (p *pipeProc) Kill()                 { p.killed = true; _ = p.stdoutW.Close() }
func (p *pipeProc) Wait()                 {}

type fakeSpawner struct {
	proc *pipeProc
	err  error
}

func (f *fakeSpawner) Spawn(ctx context.Context, modelID string, chunkSec float64) (proc, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.proc, nil
}

func writeLine(w *io.PipeWriter, line string) {
	go func() {
		_, _ = w.Write([]byte(line + "\n"))
	}()
}

func TestRestartSucceedsOnCudaReady(t *testing.T) {
	p := newPipeProc()
	s := NewForTests(&fakeSpawner{proc: p})

	writeLine(p.stdoutW, `{"type":"asr_ready","ok":true,"model_id":"m1","device_used":"cuda","warmup_ms":42}`)

	if err := s.Restart(context.Background(), "m1"); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if s.WarmupMs() < 42 {
		t.Fatalf("expected warmup_ms >= 42, got %d", s.WarmupMs())
	}
}

func TestRestartRejectsNonCudaDevice(t *testing.T) {
	p := newPipeProc()
	s := NewForTests(&fakeSpawner{proc: p})

	writeLine(p.stdoutW, `{"type":"asr_ready","ok":true,"model_id":"m1","device_used":"cpu","warmup_ms":1}`)

	err := s.Restart(context.Background(), "m1")
	if corerr.CodeOf(err, "") != "E_ASR_CUDA_REQUIRED" {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.killed {
		t.Fatal("expected cpu-device runner to be killed")
	}
}

func TestRestartPropagatesModelLoadFailureBeforeReady(t *testing.T) {
	p := newPipeProc()
	s := NewForTests(&fakeSpawner{proc: p})

	// asr_runner/runner.py's cold-start failure path writes exactly this
	// shape: {"ok":false,"error":{...}} with no "type" discriminator.
	writeLine(p.stdoutW, `{"ok":false,"error":{"code":"E_MODEL_LOAD_FAILED","message":"missing weights"}}`)

	err := s.Restart(context.Background(), "m1")
	if corerr.CodeOf(err, "") != "E_MODEL_LOAD_FAILED" {
		t.Fatalf("expected exact propagated code, got: %v", err)
	}
}

func TestRestartEOFBeforeReadyDegradesToReadyEOF(t *testing.T) {
	p := newPipeProc()
	s := NewForTests(&fakeSpawner{proc: p})

	go func() { _ = p.stdoutW.Close() }()

	err := s.Restart(context.Background(), "m1")
	if corerr.CodeOf(err, "") != "E_ASR_READY_EOF" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTranscribeHappyPath(t *testing.T) {
	p := newPipeProc()
	s := NewForTests(&fakeSpawner{proc: p})
	writeLine(p.stdoutW, `{"type":"asr_ready","ok":true,"model_id":"m1","device_used":"cuda","warmup_ms":1}`)
	if err := s.Restart(context.Background(), "m1"); err != nil {
		t.Fatalf("Restart: %v", err)
	}

	go func() {
		buf := make([]byte, 4096)
		n, _ := p.stdinR.Read(buf)
		_ = n
		writeLine(p.stdoutW, `{"ok":true,"text":"hello world","metrics":{"audio_seconds":1.5,"elapsed_ms":10,"rtf":0.1,"device_used":"cuda","model_id":"m1"}}`)
	}()

	res, err := s.Transcribe(context.Background(), "m1", "/tmp/a.wav", "en")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Text != "hello world" {
		t.Fatalf("unexpected text: %q", res.Text)
	}
}

func TestTranscribeCancelUnblocksBlockedRead(t *testing.T) {
	p := newPipeProc()
	s := NewForTests(&fakeSpawner{proc: p})
	writeLine(p.stdoutW, `{"type":"asr_ready","ok":true,"model_id":"m1","device_used":"cuda","warmup_ms":1}`)
	if err := s.Restart(context.Background(), "m1"); err != nil {
		t.Fatalf("Restart: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		buf := make([]byte, 4096)
		_, _ = p.stdinR.Read(buf)
		// Never reply; the runner is wedged. Transcribe must not block past cancel.
		cancel()
	}()

	_, err := s.Transcribe(ctx, "m1", "/tmp/a.wav", "en")
	if corerr.CodeOf(err, "") != "E_CANCELLED" {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.killed {
		t.Fatal("expected the wedged runner process to be killed on cancel")
	}
}

func TestTranscribeFailureResponsePropagatesCode(t *testing.T) {
	p := newPipeProc()
	s := NewForTests(&fakeSpawner{proc: p})
	writeLine(p.stdoutW, `{"type":"asr_ready","ok":true,"model_id":"m1","device_used":"cuda","warmup_ms":1}`)
	if err := s.Restart(context.Background(), "m1"); err != nil {
		t.Fatalf("Restart: %v", err)
	}

	go func() {
		buf := make([]byte, 4096)
		_, _ = p.stdinR.Read(buf)
		writeLine(p.stdoutW, `{"ok":false,"error":{"code":"E_ASR_DECODE_FAILED","message":"bad audio"}}`)
	}()

	_, err := s.Transcribe(context.Background(), "m1", "/tmp/a.wav", "en")
	if corerr.CodeOf(err, "") != "E_ASR_DECODE_FAILED" {
		t.Fatalf("unexpected error: %v", err)
	}
}
