package tagger

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/pindex/pkg/log"
	"github.com/cuemby/pindex/pkg/types"
)

// restartBackoff is how long a failed worker start keeps the supervisor from
// trying again. Calls made during the backoff window go to the fallback.
const restartBackoff = 30 * time.Second

// workerState tracks the subprocess lifecycle.
type workerState int

const (
	workerIdle workerState = iota
	workerStarting
	workerRunning
)

// workerRequest is one JSON line written to the worker's stdin.
type workerRequest struct {
	ID   int64  `json:"id"`
	Op   string `json:"op"`
	Text string `json:"text,omitempty"`
	CID  string `json:"cid,omitempty"`
	Mime string `json:"mime,omitempty"`
	Head string `json:"head_base64,omitempty"`
}

// workerResponse is one JSON line read from the worker's stdout.
type workerResponse struct {
	ID     int64          `json:"id"`
	OK     bool           `json:"ok"`
	Topics []string       `json:"topics,omitempty"`
	Tokens map[string]int `json:"tokens,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// WorkerTagger supervises an external tagging subprocess speaking a JSON-lines
// protocol over stdin/stdout. Any worker failure degrades to the fallback
// tagger; the crawler never sees an error from enrichment.
type WorkerTagger struct {
	command  []string
	timeout  time.Duration
	fallback Tagger

	mu           sync.Mutex
	state        workerState
	proc         *exec.Cmd
	stdin        io.WriteCloser
	pending      map[int64]chan workerResponse
	nextID       int64
	backoffUntil time.Time
	logger       zerolog.Logger
}

// NewWorker creates a supervisor for the given command line. The worker is
// started lazily on first use. timeout bounds each individual call.
func NewWorker(command []string, timeout time.Duration, fallback Tagger) *WorkerTagger {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if fallback == nil {
		fallback = NewFallback()
	}
	return &WorkerTagger{
		command:  command,
		timeout:  timeout,
		fallback: fallback,
		pending:  make(map[int64]chan workerResponse),
		logger:   log.WithComponent("tagger"),
	}
}

// TagText asks the worker to tag free text, falling back in-process on any
// failure.
func (w *WorkerTagger) TagText(ctx context.Context, text string) (*types.TagResult, error) {
	result, err := w.call(ctx, workerRequest{Op: "tag_text", Text: text})
	if err != nil {
		return w.fallback.TagText(ctx, text)
	}
	return result, nil
}

// TagImage asks the worker to tag an image by its sampled head bytes.
func (w *WorkerTagger) TagImage(ctx context.Context, cid string, verdict *types.Verdict) (*types.TagResult, error) {
	req := workerRequest{Op: "tag_image", CID: cid}
	if verdict != nil {
		req.Mime = verdict.Mime
		if verdict.Sample != nil && len(verdict.Sample.Head) > 0 {
			req.Head = base64.StdEncoding.EncodeToString(verdict.Sample.Head)
		}
	}
	result, err := w.call(ctx, req)
	if err != nil {
		return w.fallback.TagImage(ctx, cid, verdict)
	}
	return result, nil
}

// Close terminates the worker subprocess if one is running.
func (w *WorkerTagger) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.terminateLocked(fmt.Errorf("tagger closed"))
}

// call sends one request and waits for its response or the call timeout.
func (w *WorkerTagger) call(ctx context.Context, req workerRequest) (*types.TagResult, error) {
	respCh, err := w.send(req)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("worker exited before responding")
		}
		if !resp.OK {
			return nil, fmt.Errorf("worker error: %s", resp.Error)
		}
		if len(resp.Topics) == 0 && len(resp.Tokens) == 0 {
			return nil, nil
		}
		return &types.TagResult{Topics: resp.Topics, Tokens: resp.Tokens}, nil
	case <-timer.C:
		w.reset(fmt.Errorf("call timed out after %s", w.timeout))
		return nil, fmt.Errorf("worker call timed out")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// send ensures the worker is running, registers a pending call and writes the
// request line.
func (w *WorkerTagger) send(req workerRequest) (chan workerResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != workerRunning {
		if time.Now().Before(w.backoffUntil) {
			return nil, fmt.Errorf("worker in restart backoff")
		}
		if err := w.startLocked(); err != nil {
			w.backoffUntil = time.Now().Add(restartBackoff)
			return nil, fmt.Errorf("failed to start worker: %w", err)
		}
	}

	w.nextID++
	req.ID = w.nextID
	respCh := make(chan workerResponse, 1)
	w.pending[req.ID] = respCh

	line, err := json.Marshal(req)
	if err != nil {
		delete(w.pending, req.ID)
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.stdin.Write(line); err != nil {
		delete(w.pending, req.ID)
		w.terminateLocked(fmt.Errorf("stdin write failed: %w", err))
		return nil, fmt.Errorf("failed to write to worker: %w", err)
	}
	return respCh, nil
}

// startLocked launches the subprocess and its reader goroutine. Caller holds
// the mutex.
func (w *WorkerTagger) startLocked() error {
	if len(w.command) == 0 {
		return fmt.Errorf("no worker command configured")
	}
	w.state = workerStarting

	cmd := exec.Command(w.command[0], w.command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.state = workerIdle
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		w.state = workerIdle
		return err
	}
	if err := cmd.Start(); err != nil {
		w.state = workerIdle
		return err
	}

	w.proc = cmd
	w.stdin = stdin
	w.state = workerRunning
	w.logger.Info().Int("pid", cmd.Process.Pid).Msg("tagging worker started")

	go w.readLoop(cmd, stdout)
	return nil
}

// readLoop dispatches response lines to pending calls until the pipe breaks.
func (w *WorkerTagger) readLoop(cmd *exec.Cmd, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var resp workerResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			w.logger.Warn().Err(err).Msg("undecodable worker response line")
			continue
		}

		w.mu.Lock()
		ch, ok := w.pending[resp.ID]
		if ok {
			delete(w.pending, resp.ID)
		}
		w.mu.Unlock()

		if ok {
			ch <- resp
		}
	}

	err := scanner.Err()
	if err == nil {
		err = fmt.Errorf("worker stdout closed")
	}
	w.mu.Lock()
	// A reset may already have replaced the process; only tear down our own.
	if w.proc == cmd {
		w.terminateLocked(err)
	}
	w.mu.Unlock()
}

// reset kills the worker and rejects all pending calls.
func (w *WorkerTagger) reset(cause error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.terminateLocked(cause)
	w.backoffUntil = time.Now().Add(restartBackoff)
}

// terminateLocked kills the subprocess, closes every pending call and returns
// the supervisor to idle. Caller holds the mutex.
func (w *WorkerTagger) terminateLocked(cause error) {
	if w.state == workerIdle && w.proc == nil {
		return
	}
	w.logger.Warn().Err(cause).Msg("terminating tagging worker")

	if w.stdin != nil {
		w.stdin.Close()
		w.stdin = nil
	}
	if w.proc != nil {
		if w.proc.Process != nil {
			w.proc.Process.Kill()
		}
		proc := w.proc
		go proc.Wait()
		w.proc = nil
	}
	for id, ch := range w.pending {
		close(ch)
		delete(w.pending, id)
	}
	w.state = workerIdle
}
