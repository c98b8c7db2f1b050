package embedding

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"assetgate/errs"
	"assetgate/logger"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// ScriptEmbedder talks to a long-running model process over stdin/stdout.
// Each request is one line "<model>\t<image path>", each answer one JSON line
// {"vector": [...], "confidence": 0.93} or {"error": "..."}. The line "ping"
// must be answered with "pong". The process is started on demand and stopped
// after being idle.
type ScriptEmbedder struct {
	command string
	args    []string
	tmpDir  string
	idle    time.Duration
	log     *logger.Logger

	mutex    sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   *bufio.Reader
	lastUsed time.Time
	stop     chan struct{}
}

type scriptAnswer struct {
	Vector     []float32 `json:"vector"`
	Confidence *float64  `json:"confidence"` // absent means full confidence
	Error      string    `json:"error"`
}

func NewScriptEmbedder(log *logger.Logger, tmpDir string, idle time.Duration, command string, args ...string) *ScriptEmbedder {
	s := &ScriptEmbedder{
		command: command,
		args:    args,
		tmpDir:  tmpDir,
		idle:    idle,
		log:     log.With("embedder", "script"),
		stop:    make(chan struct{}),
	}
	go s.backgroundChecker()
	return s
}

func (s *ScriptEmbedder) Close() {
	close(s.stop)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.cmd != nil {
		s.shutdown()
	}
}

func (s *ScriptEmbedder) Embed(ctx context.Context, image []byte, model string) (Result, error) {
	path := s.tmpDir + "/embed-" + uuid.NewString()
	if err := os.WriteFile(path, image, 0600); err != nil {
		return Result{}, goerr.Wrap(err, "cannot write image for the embedding script")
	}
	defer os.Remove(path)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lastUsed = time.Now()
	if s.cmd == nil {
		if err := s.start(); err != nil {
			return Result{}, goerr.Wrap(errs.ErrEncodingFailure, err.Error(), goerr.V("command", s.command))
		}
	}
	// A blocked read only returns once the process is gone
	proc := s.cmd.Process
	stopKill := context.AfterFunc(ctx, func() { _ = proc.Kill() })
	line, err := s.writeAndRead(model + "\t" + path)
	stopKill()
	if err != nil {
		s.shutdown()
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, goerr.Wrap(errs.ErrEncodingFailure, err.Error(), goerr.V("model", model))
	}

	var answer scriptAnswer
	if err = json.Unmarshal([]byte(line), &answer); err != nil {
		return Result{}, goerr.Wrap(errs.ErrEncodingFailure, "invalid answer from embedding script",
			goerr.V("answer", line))
	}
	if answer.Error != "" {
		return Result{}, goerr.Wrap(errs.ErrEncodingFailure, answer.Error, goerr.V("model", model))
	}
	res := Result{Vector: answer.Vector, Confidence: 1}
	if answer.Confidence != nil {
		res.Confidence = *answer.Confidence
	}
	return res, nil
}

func (s *ScriptEmbedder) start() error {
	s.log.Info("starting embedding script", "command", s.command)
	cmd := exec.Command(s.command, s.args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err = cmd.Start(); err != nil {
		return err
	}
	s.cmd = cmd
	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)
	return nil
}

// shutdown expects the mutex to be held
func (s *ScriptEmbedder) shutdown() {
	cmd := s.cmd
	s.cmd = nil
	_ = s.stdin.Close()
	_ = cmd.Process.Kill()
	go func() { _ = cmd.Wait() }()
	s.stdin = nil
	s.stdout = nil
	s.log.Info("embedding script stopped")
}

func (s *ScriptEmbedder) writeAndRead(line string) (string, error) {
	if _, err := io.WriteString(s.stdin, line+"\n"); err != nil {
		return "", err
	}
	answer, err := s.stdout.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(answer, "\r\n"), nil
}

func (s *ScriptEmbedder) backgroundChecker() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		s.mutex.Lock()
		if s.cmd != nil {
			if time.Since(s.lastUsed) > s.idle {
				s.shutdown()
			} else if answer, err := s.writeAndRead("ping"); err != nil || answer != "pong" {
				s.log.Warn("embedding script stopped answering", "answer", answer, "error", err)
				s.shutdown()
			}
		}
		s.mutex.Unlock()
	}
}
