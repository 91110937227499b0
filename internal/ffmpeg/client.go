package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

const DefaultBinary = "ffmpeg"

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

type CopyOptions struct {
	Binary     string
	InputURL   string
	OutputPath string
	Threads    int
	LogWriter  io.Writer
	OnLine     func(stream OutputStream, line string)
}

type CopyResult struct {
	Command  []string
	ExitCode int
}

type DependencyReport struct {
	Found  bool   `json:"found"`
	Binary string `json:"binary"`
	Path   string `json:"path,omitempty"`
}

// SpawnError means the process never started; no output file was touched.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError is a completed process with a non-zero exit status.
type ExitError struct {
	Code   int
	Output string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("ffmpeg exited with status %d", e.Code)
	if e.Output != "" {
		msg += "\n" + e.Output
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

func binaryOrDefault(bin string) string {
	if b := strings.TrimSpace(bin); b != "" {
		return b
	}
	return DefaultBinary
}

func DependencyStatus(bin string) DependencyReport {
	report := DependencyReport{Binary: binaryOrDefault(bin)}
	if path, err := exec.LookPath(report.Binary); err == nil {
		report.Found = true
		report.Path = path
	}
	return report
}

func CheckDependency(bin string) error {
	report := DependencyStatus(bin)
	if !report.Found {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", report.Binary)
	}
	return nil
}

// CopyArgs builds a stream-copy invocation that reports progress as
// key=value blocks on stdout.
func CopyArgs(opts CopyOptions) []string {
	threads := opts.Threads
	if threads < 0 {
		threads = 0
	}
	return []string{
		"-y",
		"-i", opts.InputURL,
		"-threads", strconv.Itoa(threads),
		"-c", "copy",
		"-progress", "pipe:1",
		opts.OutputPath,
	}
}

// Copy runs ffmpeg until it exits. Cancelling ctx kills the process.
func Copy(ctx context.Context, opts CopyOptions) (CopyResult, error) {
	if strings.TrimSpace(opts.InputURL) == "" {
		return CopyResult{}, fmt.Errorf("input URL is required")
	}
	if strings.TrimSpace(opts.OutputPath) == "" {
		return CopyResult{}, fmt.Errorf("output path is required")
	}

	bin := binaryOrDefault(opts.Binary)
	args := CopyArgs(opts)
	res := CopyResult{Command: append([]string{bin}, args...)}

	cmd := exec.CommandContext(ctx, bin, args...)
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return res, &SpawnError{Binary: bin, Err: fmt.Errorf("setup stdout pipe: %w", err)}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return res, &SpawnError{Binary: bin, Err: fmt.Errorf("setup stderr pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		return res, &SpawnError{Binary: bin, Err: err}
	}

	var errBuf strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup

	read := func(stream OutputStream, r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			if stream == StreamStderr {
				appendTail(&errBuf, line)
			}
			if opts.LogWriter != nil {
				_, _ = io.WriteString(opts.LogWriter, line+"\n")
			}
			mu.Unlock()

			if opts.OnLine != nil {
				opts.OnLine(stream, line)
			}
		}
	}

	wg.Add(2)
	go read(StreamStdout, stdoutPipe)
	go read(StreamStderr, stderrPipe)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		code := -1
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		res.ExitCode = code
		mu.Lock()
		defer mu.Unlock()
		return res, &ExitError{Code: code, Output: strings.TrimSpace(errBuf.String()), Err: err}
	}
	return res, nil
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// appendTail keeps the last stderr lines; ffmpeg prints the actual failure
// reason at the end.
func appendTail(b *strings.Builder, line string) {
	const maxKeep = 4096
	next := b.String() + line + "\n"
	if len(next) > maxKeep {
		next = next[len(next)-maxKeep:]
	}
	b.Reset()
	b.WriteString(next)
}
