// Package video reads frames out of video files using ffmpeg. It implements
// the processor.FrameSource contract: frames come back in order as JPEG
// bytes together with their frame number and timestamp.
package video

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/liftlab/formcoach-worker/internal/processor"
)

// Sentinel errors for the two ways opening a video can fail. Callers check
// them with errors.Is.
var (
	ErrNotFound   = errors.New("video file not found")
	ErrUnreadable = errors.New("video file unreadable")
)

// Metadata holds the stream properties probed before extraction.
type Metadata struct {
	FPS        float64
	FrameCount int
	Duration   float64
	Width      int
	Height     int
	Codec      string
}

// Reader extracts a video's frames into a temp directory up front and then
// serves them one at a time. Close removes the extracted frames.
type Reader struct {
	meta       Metadata
	framePaths []string
	next       int
	frameDir   string
}

// Opener creates Readers. It verifies the ffmpeg and ffprobe binaries once
// at construction.
type Opener struct {
	ffmpegPath  string
	ffprobePath string
	tempDir     string
}

// NewOpener locates ffmpeg and ffprobe and prepares the temp directory.
func NewOpener(tempDir string) (*Opener, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &Opener{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		tempDir:     tempDir,
	}, nil
}

// Open probes videoPath, extracts its frames, and returns a Reader over
// them. A missing file maps to ErrNotFound; a file ffprobe cannot parse as
// video maps to ErrUnreadable.
func (o *Opener) Open(videoPath, jobID string) (*Reader, error) {
	if _, err := os.Stat(videoPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, videoPath)
		}
		return nil, fmt.Errorf("stat %s: %w", videoPath, err)
	}

	meta, err := o.Probe(videoPath)
	if err != nil {
		return nil, err
	}

	frameDir := filepath.Join(o.tempDir, fmt.Sprintf("%s_frames", jobID))
	if err := os.MkdirAll(frameDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}

	framePaths, err := o.extractFrames(videoPath, frameDir)
	if err != nil {
		os.RemoveAll(frameDir)
		return nil, err
	}

	return &Reader{
		meta:       meta,
		framePaths: framePaths,
		frameDir:   frameDir,
	}, nil
}

// Probe runs ffprobe and returns the video's stream properties.
func (o *Opener) Probe(videoPath string) (Metadata, error) {
	cmd := exec.Command(o.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	)

	output, err := cmd.Output()
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: ffprobe failed on %s: %v", ErrUnreadable, videoPath, err)
	}

	var probe struct {
		Streams []struct {
			CodecType  string `json:"codec_type"`
			CodecName  string `json:"codec_name"`
			Width      int    `json:"width"`
			Height     int    `json:"height"`
			RFrameRate string `json:"r_frame_rate"`
			NbFrames   string `json:"nb_frames"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return Metadata{}, fmt.Errorf("%w: failed to parse ffprobe output for %s: %v", ErrUnreadable, videoPath, err)
	}

	var meta Metadata
	for _, stream := range probe.Streams {
		if stream.CodecType != "video" {
			continue
		}
		meta.Codec = stream.CodecName
		meta.Width = stream.Width
		meta.Height = stream.Height
		meta.FPS = parseFrameRate(stream.RFrameRate)
		if n, err := strconv.Atoi(stream.NbFrames); err == nil {
			meta.FrameCount = n
		}
		break
	}

	if meta.Codec == "" {
		return Metadata{}, fmt.Errorf("%w: no video stream in %s", ErrUnreadable, videoPath)
	}
	if meta.FPS <= 0 {
		return Metadata{}, fmt.Errorf("%w: could not determine frame rate of %s", ErrUnreadable, videoPath)
	}

	if probe.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			meta.Duration = d
		}
	}
	if meta.FrameCount == 0 && meta.Duration > 0 {
		// Some containers omit nb_frames; estimate from duration.
		meta.FrameCount = int(meta.Duration * meta.FPS)
	}

	return meta, nil
}

// extractFrames dumps every frame to numbered JPEG files and returns their
// paths in frame order.
func (o *Opener) extractFrames(videoPath, frameDir string) ([]string, error) {
	outputPattern := filepath.Join(frameDir, "frame_%06d.jpg")

	cmd := exec.Command(o.ffmpegPath,
		"-i", videoPath,
		"-vsync", "0",
		"-q:v", "2",
		"-y",
		outputPattern,
	)

	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg frame extraction failed: %v: %s", ErrUnreadable, err, truncate(string(output), 500))
	}

	framePaths, err := filepath.Glob(filepath.Join(frameDir, "frame_*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("failed to list extracted frames: %w", err)
	}
	if len(framePaths) == 0 {
		return nil, fmt.Errorf("%w: ffmpeg produced no frames from %s", ErrUnreadable, videoPath)
	}

	sort.Strings(framePaths)
	return framePaths, nil
}

// Next returns the next frame, or io.EOF after the last one.
func (r *Reader) Next() (*processor.Frame, error) {
	if r.next >= len(r.framePaths) {
		return nil, io.EOF
	}

	number := r.next
	data, err := os.ReadFile(r.framePaths[number])
	if err != nil {
		return nil, fmt.Errorf("failed to read frame %d: %w", number, err)
	}
	r.next++

	return &processor.Frame{
		Number:    number,
		Timestamp: float64(number) / r.meta.FPS,
		Image:     data,
	}, nil
}

// FPS returns the probed frame rate.
func (r *Reader) FPS() float64 { return r.meta.FPS }

// FrameCount returns the number of extracted frames.
func (r *Reader) FrameCount() int { return len(r.framePaths) }

// Metadata returns the probed stream properties.
func (r *Reader) Metadata() Metadata { return r.meta }

// Close deletes the extracted frames.
func (r *Reader) Close() error {
	return os.RemoveAll(r.frameDir)
}

// parseFrameRate converts ffprobe's fraction notation ("30000/1001") to a
// float.
func parseFrameRate(rate string) float64 {
	parts := strings.SplitN(rate, "/", 2)
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}
	if len(parts) == 1 {
		return num
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || den == 0 {
		return 0
	}
	return num / den
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
