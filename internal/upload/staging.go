// Package upload stages incoming image batches into the per-job directory
// layout the pipeline expects.
package upload

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Staged describes where a job's inputs and outputs live.
type Staged struct {
	InputDir   string
	OutputDir  string
	ImagePaths []string
}

// Stager writes uploads to the local filesystem.
type Stager struct {
	UploadBase string
	OutputBase string
}

func NewStager(uploadBase, outputBase string) *Stager {
	if uploadBase == "" {
		uploadBase = "uploads"
	}
	if outputBase == "" {
		outputBase = "output"
	}
	return &Stager{UploadBase: uploadBase, OutputBase: outputBase}
}

// StageUpload creates the job's input/output directories
// ({unix_ms}_{safe_title}) and moves every uploaded image into the input
// directory. It is synchronous; the caller creates the job row afterwards.
func (s *Stager) StageUpload(title string, files []*multipart.FileHeader) (*Staged, error) {
	safeTitle := whitespaceRe.ReplaceAllString(strings.TrimSpace(title), "_")
	dirName := fmt.Sprintf("%d_%s", time.Now().UnixMilli(), safeTitle)

	inputDir := filepath.Join(s.UploadBase, dirName)
	outputDir := filepath.Join(s.OutputBase, dirName)
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(files))
	for _, fh := range files {
		name := filepath.Base(fh.Filename)
		if name == "" || name == "." || name == string(filepath.Separator) {
			name = uuid.NewString()
		}
		dest := filepath.Join(inputDir, name)
		if err := saveFile(fh, dest); err != nil {
			return nil, err
		}
		paths = append(paths, dest)
	}

	return &Staged{InputDir: inputDir, OutputDir: outputDir, ImagePaths: paths}, nil
}

func saveFile(fh *multipart.FileHeader, dest string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}
