package deps

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"time"
)

const FFmpegID = "ffmpeg"

var ffmpegVersionRe = regexp.MustCompile(`ffmpeg version (\S+)`)

func init() {
	Register(&Dependency{
		ID:          FFmpegID,
		Name:        "FFmpeg",
		Description: "Reads camera and video frames for the live mirror",
		ManualOnly:  true,
		InstallURL:  "https://ffmpeg.org/download.html",
		Check: func(ctx context.Context) (bool, string, error) {
			return checkFFmpeg(ctx, "")
		},
	})
}

// checkFFmpeg runs "ffmpeg -version" on path, or on the ffmpeg in PATH.
func checkFFmpeg(ctx context.Context, path string) (bool, string, error) {
	exe, err := FFmpegPath(path)
	if err != nil {
		return false, "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, exe, "-version").CombinedOutput()
	if err != nil {
		return true, "unknown", nil
	}
	return true, parseFFmpegVersion(string(out)), nil
}

func parseFFmpegVersion(output string) string {
	if m := ffmpegVersionRe.FindStringSubmatch(output); len(m) > 1 {
		return m[1]
	}
	return "unknown"
}

// FFmpegPath resolves the ffmpeg executable: the configured path when set,
// otherwise the one in PATH.
func FFmpegPath(configured string) (string, error) {
	name := "ffmpeg"
	if configured != "" {
		name = configured
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found: %w", err)
	}
	return p, nil
}

// FFmpegCommand builds an ffmpeg command with platform process attributes.
func FFmpegCommand(ctx context.Context, configured string, args ...string) (*exec.Cmd, error) {
	exe, err := FFmpegPath(configured)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, exe, args...)
	configureSysProcAttr(cmd)
	return cmd, nil
}
