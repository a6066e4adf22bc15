package preflight

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"vert/internal/config"
	"vert/internal/deps"
)

const versionTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the converter executables for the given config.
// Both the daemon and the CLI check command use this list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Required for video and audio conversion",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Required for progress percentages",
		},
		{
			Name:        "ImageMagick",
			Command:     cfg.MagickBinary(),
			Description: "Image conversion",
			Optional:    true,
		},
		{
			Name:        "Pandoc",
			Command:     cfg.PandocBinary(),
			Description: "Document conversion",
			Optional:    true,
		},
		{
			Name:        "qpdf",
			Command:     cfg.QpdfBinary(),
			Description: "PDF permission restrictions",
			Optional:    true,
		},
	}
	return deps.CheckBinaries(requirements)
}

// ToolVersion runs "<binary> -version" and returns the first non-empty
// output line. ImageMagick and pandoc accept the single-dash form as well.
func ToolVersion(ctx context.Context, binary string) (string, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return "", fmt.Errorf("tool not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, binary, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("%s -version: %w", binary, err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("%s -version: empty output", binary)
}
