package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/logutil"
)

// Renderer composes story media. Inputs are read, never consumed; the caller
// keeps ownership of them and owns the returned buffer.
type Renderer interface {
	// BurnCaption composites caption onto base. The result keeps base's kind.
	BurnCaption(ctx context.Context, base *Buffer, caption string) (*Buffer, error)
	// MuxAudio combines a visual with an audio track into a video.
	MuxAudio(ctx context.Context, visual, audio *Buffer) (*Buffer, error)
}

// FFmpegRenderer implements Renderer by shelling out to ffmpeg.
type FFmpegRenderer struct {
	Binary   string
	FontFile string
}

// NewFFmpegRenderer returns a renderer using the given ffmpeg binary.
func NewFFmpegRenderer(binary, fontFile string) *FFmpegRenderer {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegRenderer{Binary: binary, FontFile: fontFile}
}

// BurnCaption draws the caption centered near the bottom of the frame.
func (r *FFmpegRenderer) BurnCaption(ctx context.Context, base *Buffer, caption string) (*Buffer, error) {
	dir, err := os.MkdirTemp("", "smm-story-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in, err := writeInput(dir, "base", base)
	if err != nil {
		return nil, err
	}
	textFile := filepath.Join(dir, "caption.txt")
	if err := os.WriteFile(textFile, []byte(caption), 0o600); err != nil {
		return nil, fmt.Errorf("write caption: %w", err)
	}

	out := filepath.Join(dir, "out"+base.Extension())
	filter := fmt.Sprintf("drawtext=textfile='%s':expansion=none:fontcolor=white:fontsize=h/24:box=1:boxcolor=black@0.5:boxborderw=16:x=(w-text_w)/2:y=h-text_h-h/8", escapeFilterPath(textFile))
	if r.FontFile != "" {
		filter += fmt.Sprintf(":fontfile='%s'", escapeFilterPath(r.FontFile))
	}

	args := []string{"-y", "-i", in, "-vf", filter}
	if base.IsVideo {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-frames:v", "1")
	}
	args = append(args, out)

	if err := r.run(ctx, args); err != nil {
		return nil, fmt.Errorf("burn caption: %w", err)
	}
	return readOutput(out, base.ContentType)
}

// MuxAudio loops a still image (or reuses a video's frames) for the length of
// the audio track and encodes an H.264/AAC mp4.
func (r *FFmpegRenderer) MuxAudio(ctx context.Context, visual, audio *Buffer) (*Buffer, error) {
	dir, err := os.MkdirTemp("", "smm-story-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in, err := writeInput(dir, "visual", visual)
	if err != nil {
		return nil, err
	}
	track, err := writeInput(dir, "audio", audio)
	if err != nil {
		return nil, err
	}
	out := filepath.Join(dir, "story.mp4")

	var args []string
	if visual.IsVideo {
		args = []string{"-y", "-i", in, "-i", track, "-map", "0:v:0", "-map", "1:a:0"}
	} else {
		args = []string{"-y", "-loop", "1", "-i", in, "-i", track, "-tune", "stillimage"}
	}
	args = append(args,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-pix_fmt", "yuv420p",
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-t", "60",
		"-shortest",
		"-movflags", "+faststart",
		out,
	)

	if err := r.run(ctx, args); err != nil {
		return nil, fmt.Errorf("mux audio: %w", err)
	}
	return readOutput(out, "video/mp4")
}

func (r *FFmpegRenderer) run(ctx context.Context, args []string) error {
	if _, err := exec.LookPath(r.Binary); err != nil {
		return fmt.Errorf("ffmpeg not found (%s): %w", r.Binary, err)
	}
	logutil.Debugf("running ffmpeg: args=%q", args)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s", err, lastLine(stderr.String()))
	}
	return nil
}

func writeInput(dir, stem string, buf *Buffer) (string, error) {
	if buf == nil {
		return "", errors.New("missing input buffer")
	}
	data, err := buf.Peek()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", stem, err)
	}
	p := filepath.Join(dir, stem+buf.Extension())
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", stem, err)
	}
	return p, nil
}

func readOutput(p, contentType string) (*Buffer, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read render output: %w", err)
	}
	return NewBuffer(filepath.Base(p), contentType, data), nil
}

func escapeFilterPath(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`)
	return r.Replace(p)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
