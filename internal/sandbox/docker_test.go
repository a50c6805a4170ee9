package sandbox_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/lattice-editor/server/internal/sandbox"
)

func mustAvailableRunner(testContext *testing.T) *sandbox.DockerRunner {
	testContext.Helper()
	if os.Getenv("CI") != "" {
		testContext.Skip("skipping docker-backed sandbox test in CI")
	}

	runner, err := sandbox.NewDockerRunner(sandbox.DockerConfig{})
	if err != nil {
		testContext.Skipf("docker client unavailable: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !runner.Available(ctx) {
		testContext.Skip("docker daemon or sandbox images not available in this environment")
	}
	return runner
}

func TestDockerRunnerExecutesPython(testContext *testing.T) {
	runner := mustAvailableRunner(testContext)
	defer runner.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := runner.Run(ctx, sandbox.Request{
		Language: "python",
		Code:     []byte("print(\"hello from sandbox\")"),
		Timeout:  5 * time.Second,
	})
	if err != nil {
		testContext.Fatalf("run: %v", err)
	}
	if result.Status != sandbox.StatusCompleted {
		testContext.Fatalf("expected completed, got %s (%s): %s", result.Status, result.Reason, result.Stderr)
	}
}

func TestDockerRunnerReportsCompileError(testContext *testing.T) {
	runner := mustAvailableRunner(testContext)
	defer runner.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	result, err := runner.Run(ctx, sandbox.Request{
		Language: "c",
		Code:     []byte("int main( { return 0; }"),
		Timeout:  10 * time.Second,
	})
	if err != nil {
		testContext.Fatalf("run: %v", err)
	}
	if result.Status != sandbox.StatusFailed || result.Reason != sandbox.ReasonCompileError {
		testContext.Fatalf("expected compile_error failure, got %s/%s", result.Status, result.Reason)
	}
}

func TestDockerRunnerTimesOutOnInfiniteLoop(testContext *testing.T) {
	runner := mustAvailableRunner(testContext)
	defer runner.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := runner.Run(ctx, sandbox.Request{
		Language: "python",
		Code:     []byte("while True:\n    pass\n"),
		Timeout:  1 * time.Second,
	})
	if err != nil {
		testContext.Fatalf("run: %v", err)
	}
	if result.Status != sandbox.StatusTimeout {
		testContext.Fatalf("expected timeout, got %s", result.Status)
	}
}

func TestDockerRunnerRejectsUnsupportedLanguage(testContext *testing.T) {
	runner := mustAvailableRunner(testContext)
	defer runner.Close()

	_, err := runner.Run(context.Background(), sandbox.Request{Language: "cobol", Code: []byte("x")})
	if err != sandbox.ErrUnsupportedLanguage {
		testContext.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
}
