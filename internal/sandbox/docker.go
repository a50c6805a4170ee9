package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// DockerConfig configures the Docker-backed Runner.
type DockerConfig struct {
	Languages      map[string]LanguageSpec
	PoolSize       int
	OutputMaxBytes int64
	Logger         *zap.Logger
}

const defaultOutputMaxBytes = 1024 * 1024

// DockerRunner executes requests in ephemeral, pre-warmed Docker
// containers, one pool per language image.
type DockerRunner struct {
	cli            *client.Client
	languages      map[string]LanguageSpec
	outputMaxBytes int64
	logger         *zap.Logger

	mu    sync.Mutex
	pools map[string]*pool
}

// NewDockerRunner connects to the local Docker daemon and prepares one
// container pool per configured language. Pools start lazily on first use.
func NewDockerRunner(cfg DockerConfig) (*DockerRunner, error) {
	if len(cfg.Languages) == 0 {
		cfg.Languages = DefaultLanguages()
	}
	if cfg.OutputMaxBytes <= 0 {
		cfg.OutputMaxBytes = defaultOutputMaxBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: create docker client: %w", err)
	}

	return &DockerRunner{
		cli:            cli,
		languages:      cfg.Languages,
		outputMaxBytes: cfg.OutputMaxBytes,
		logger:         cfg.Logger,
		pools:          make(map[string]*pool, len(cfg.Languages)),
	}, nil
}

// Close stops every language pool and the underlying docker client.
func (r *DockerRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pools {
		p.stop()
	}
	return r.cli.Close()
}

// Available reports whether the docker daemon is reachable and every
// configured language image exists locally.
func (r *DockerRunner) Available(ctx context.Context) bool {
	if _, err := r.cli.Ping(ctx); err != nil {
		return false
	}
	for _, spec := range r.languages {
		if _, _, err := r.cli.ImageInspectWithRaw(ctx, spec.Image); err != nil {
			return false
		}
	}
	return true
}

// EnsureImages pulls every configured language image, blocking until
// each pull completes. Intended to run once at startup.
func (r *DockerRunner) EnsureImages(ctx context.Context) error {
	for name, spec := range r.languages {
		reader, err := r.cli.ImagePull(ctx, spec.Image, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("sandbox: pull image for %s: %w", name, err)
		}
		_, copyErr := io.Copy(io.Discard, reader)
		closeErr := reader.Close()
		if copyErr != nil {
			return fmt.Errorf("sandbox: pull image for %s: %w", name, copyErr)
		}
		if closeErr != nil {
			return fmt.Errorf("sandbox: pull image for %s: %w", name, closeErr)
		}
	}
	return nil
}

func (r *DockerRunner) poolFor(spec LanguageSpec) *pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[spec.Image]
	if !ok {
		p = newPool(r.cli, PoolConfig{Image: spec.Image}, r.logger)
		r.pools[spec.Image] = p
	}
	p.start()
	return p
}

// Run executes one request end to end: acquire a container, write the
// code in over stdin, optionally compile, run, then release the
// container. The container is never reused across requests.
func (r *DockerRunner) Run(ctx context.Context, req Request) (Result, error) {
	spec, ok := r.languages[req.Language]
	if !ok {
		return Result{}, ErrUnsupportedLanguage
	}
	if req.Timeout <= 0 {
		req.Timeout = 5 * time.Second
	}

	start := time.Now()
	p := r.poolFor(spec)

	containerID, err := p.get(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: acquire container: %w", err)
	}
	defer p.remove(containerID)

	if err := r.writeSource(ctx, containerID, spec, req.Code); err != nil {
		return Result{}, fmt.Errorf("sandbox: write source: %w", err)
	}

	if len(spec.CompileCmd) > 0 {
		outcome, err := r.runStep(ctx, containerID, spec.CompileCmd, req.Timeout)
		if err != nil {
			return Result{}, err
		}
		if outcome.timedOut {
			return Result{Status: StatusTimeout, ElapsedMs: time.Since(start).Milliseconds()}, nil
		}
		if outcome.outputTruncated {
			return Result{Status: StatusFailed, Reason: ReasonOutputLimit, Stdout: outcome.stdout, Stderr: outcome.stderr, ExitCode: outcome.exitCode, ElapsedMs: time.Since(start).Milliseconds()}, nil
		}
		if outcome.exitCode != 0 {
			return Result{Status: StatusFailed, Reason: ReasonCompileError, Stdout: outcome.stdout, Stderr: outcome.stderr, ExitCode: outcome.exitCode, ElapsedMs: time.Since(start).Milliseconds()}, nil
		}
	}

	outcome, err := r.runStep(ctx, containerID, spec.RunCmd, req.Timeout)
	if err != nil {
		return Result{}, err
	}
	elapsed := time.Since(start).Milliseconds()
	switch {
	case outcome.timedOut:
		return Result{Status: StatusTimeout, Stdout: outcome.stdout, Stderr: outcome.stderr, ElapsedMs: elapsed}, nil
	case outcome.outputTruncated:
		return Result{Status: StatusFailed, Reason: ReasonOutputLimit, Stdout: outcome.stdout, Stderr: outcome.stderr, ExitCode: outcome.exitCode, ElapsedMs: elapsed}, nil
	case outcome.exitCode != 0:
		return Result{Status: StatusFailed, Reason: ReasonRuntimeError, Stdout: outcome.stdout, Stderr: outcome.stderr, ExitCode: outcome.exitCode, ElapsedMs: elapsed}, nil
	default:
		return Result{Status: StatusCompleted, Stdout: outcome.stdout, Stderr: outcome.stderr, ExitCode: outcome.exitCode, ElapsedMs: elapsed}, nil
	}
}

// writeSource streams code into the container over stdin, landing it at
// /work/<SourceFile>, avoiding bind mounts against the read-only root.
func (r *DockerRunner) writeSource(ctx context.Context, containerID string, spec LanguageSpec, code []byte) error {
	execResp, err := r.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          []string{"sh", "-c", fmt.Sprintf("cat > /work/%s", spec.SourceFile)},
	})
	if err != nil {
		return fmt.Errorf("exec create: %w", err)
	}

	attachResp, err := r.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return fmt.Errorf("exec attach: %w", err)
	}
	defer attachResp.Close()

	drained := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, attachResp.Reader)
		close(drained)
	}()

	if _, err := attachResp.Conn.Write(code); err != nil {
		return fmt.Errorf("write source: %w", err)
	}
	if err := attachResp.CloseWrite(); err != nil {
		return fmt.Errorf("close stdin: %w", err)
	}

	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return fmt.Errorf("exec inspect: %w", err)
	}
	if inspect.ExitCode != 0 {
		return fmt.Errorf("writing source exited with code %d", inspect.ExitCode)
	}
	return nil
}

type stepOutcome struct {
	stdout          string
	stderr          string
	exitCode        int
	timedOut        bool
	outputTruncated bool
}

var errOutputLimitExceeded = errors.New("sandbox: output limit exceeded")

func (r *DockerRunner) runStep(ctx context.Context, containerID string, cmd []string, timeout time.Duration) (stepOutcome, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execResp, err := r.cli.ContainerExecCreate(execCtx, containerID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	})
	if err != nil {
		return stepOutcome{}, fmt.Errorf("exec create: %w", err)
	}

	attachResp, err := r.cli.ContainerExecAttach(execCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return stepOutcome{}, fmt.Errorf("exec attach: %w", err)
	}
	defer attachResp.Close()

	shared := &sharedCap{limit: r.outputMaxBytes}
	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutWriter := &cappedWriter{buf: &stdoutBuf, shared: shared}
	stderrWriter := &cappedWriter{buf: &stderrBuf, shared: shared}

	done := make(chan struct{})
	go func() {
		_, _ = stdcopy.StdCopy(stdoutWriter, stderrWriter, attachResp.Reader)
		close(done)
	}()

	outcome := stepOutcome{}
	select {
	case <-done:
		inspect, err := r.cli.ContainerExecInspect(ctx, execResp.ID)
		if err == nil {
			outcome.exitCode = inspect.ExitCode
		}
	case <-execCtx.Done():
		outcome.timedOut = true
	}

	shared.mu.Lock()
	outcome.outputTruncated = shared.exceeded
	shared.mu.Unlock()

	outcome.stdout = stdoutBuf.String()
	outcome.stderr = stderrBuf.String()
	return outcome, nil
}

type sharedCap struct {
	mu       sync.Mutex
	total    int64
	limit    int64
	exceeded bool
}

// cappedWriter enforces a combined stdout+stderr byte ceiling shared
// across both streams via sharedCap.
type cappedWriter struct {
	buf    *bytes.Buffer
	shared *sharedCap
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	w.shared.mu.Lock()
	defer w.shared.mu.Unlock()

	if w.shared.exceeded {
		return 0, errOutputLimitExceeded
	}
	remaining := w.shared.limit - w.shared.total
	if remaining <= 0 {
		w.shared.exceeded = true
		return 0, errOutputLimitExceeded
	}

	n := len(p)
	truncated := false
	if int64(n) > remaining {
		n = int(remaining)
		truncated = true
	}
	w.buf.Write(p[:n])
	w.shared.total += int64(n)
	if truncated {
		w.shared.exceeded = true
		return n, errOutputLimitExceeded
	}
	return n, nil
}
