package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Runner invokes the external photogrammetry tool. onLine receives every
// trimmed, non-empty line of the merged stdout/stderr stream, in order. Run
// returns an error on spawn failure or non-zero exit.
type Runner interface {
	Run(ctx context.Context, inputDir, outputDir string, onLine func(string)) error
}

// MeshroomRunner shells out to meshroom_batch.
type MeshroomRunner struct {
	Bin          string
	PipelineFile string
}

func NewMeshroomRunner(bin, pipelineFile string) *MeshroomRunner {
	if bin == "" {
		bin = "meshroom_batch"
	}
	return &MeshroomRunner{Bin: bin, PipelineFile: pipelineFile}
}

func (r *MeshroomRunner) Run(ctx context.Context, inputDir, outputDir string, onLine func(string)) error {
	args := []string{"--input", inputDir, "--output", outputDir}
	if r.PipelineFile != "" {
		args = append(args, "--pipeline", r.PipelineFile)
	}

	cmd := exec.CommandContext(ctx, r.Bin, args...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return fmt.Errorf("meshroom spawn: %w", err)
	}

	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			onLine(line)
		}
	}()

	waitErr := cmd.Wait()
	_ = pw.Close()
	<-scanDone

	if waitErr != nil {
		return fmt.Errorf("meshroom: %w", waitErr)
	}
	return nil
}
