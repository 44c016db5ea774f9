package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"

	"github.com/namuol/magic-eye-mirror/deps"
)

// FFmpegOptions selects the input ffmpeg decodes frames from.
type FFmpegOptions struct {
	// Path to ffmpeg; empty uses PATH.
	FFmpegPath string
	// Input is a device (/dev/video0, "video=Integrated Camera") or a file.
	Input string
	// InputFormat is passed as -f before the input (v4l2, avfoundation,
	// dshow). Empty lets ffmpeg probe.
	InputFormat string
	// Frames are scaled to Width x Height.
	Width, Height int
	// Loop restarts file inputs at EOF.
	Loop bool
}

// Args returns the ffmpeg command line producing raw RGBA frames on stdout.
func (o FFmpegOptions) Args() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if o.Loop {
		args = append(args, "-stream_loop", "-1", "-re")
	}
	if o.InputFormat != "" {
		args = append(args, "-f", o.InputFormat)
	}
	args = append(args,
		"-i", o.Input,
		"-vf", "scale="+strconv.Itoa(o.Width)+":"+strconv.Itoa(o.Height),
		"-pix_fmt", "rgba",
		"-f", "rawvideo",
		"-",
	)
	return args
}

// RawFrames reads fixed-size RGBA frames from a byte stream.
type RawFrames struct {
	r    io.Reader
	w, h int

	mu sync.Mutex
}

// NewRawFrames reads w x h RGBA frames from r.
func NewRawFrames(r io.Reader, w, h int) *RawFrames {
	return &RawFrames{r: r, w: w, h: h}
}

// Next blocks until a whole frame has been read. A stream that ends between
// frames returns io.EOF; one that ends mid-frame returns io.ErrUnexpectedEOF.
func (f *RawFrames) Next(ctx context.Context) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, f.w, f.h))
	if _, err := io.ReadFull(f.r, img.Pix); err != nil {
		return nil, err
	}
	return img, nil
}

// FFmpeg captures frames from a camera or video through an ffmpeg child
// process.
type FFmpeg struct {
	*RawFrames
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
}

// StartFFmpeg launches ffmpeg. The process lives until Close or until ctx
// is canceled.
func StartFFmpeg(ctx context.Context, opts FFmpegOptions) (*FFmpeg, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("capture: invalid frame size %dx%d", opts.Width, opts.Height)
	}
	if opts.Input == "" {
		return nil, errors.New("capture: ffmpeg input is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	cmd, err := deps.FFmpegCommand(ctx, opts.FFmpegPath, opts.Args()...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("capture: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("capture: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("capture: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("capture: start ffmpeg: %w", err)
	}

	f := &FFmpeg{
		RawFrames: NewRawFrames(bufio.NewReaderSize(stdout, opts.Width*opts.Height*4), opts.Width, opts.Height),
		cmd:       cmd,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go func() {
		defer close(f.done)
		s := bufio.NewScanner(stderr)
		for s.Scan() {
			log.Printf("ffmpeg: %s", s.Text())
		}
	}()
	return f, nil
}

// Close stops ffmpeg and waits for it to exit.
func (f *FFmpeg) Close() error {
	f.cancel()
	<-f.done
	err := f.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// killed by cancel
		return nil
	}
	return err
}
