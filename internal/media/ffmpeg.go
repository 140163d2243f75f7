package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MimeLyc/news-video-assembler/pkg/log"
	"github.com/google/uuid"
)

// Target is the canonical encoding every segment is normalized to before
// concatenation.
type Target struct {
	Width  int
	Height int
	FPS    int
}

func (t Target) String() string {
	return fmt.Sprintf("%dx%d@%d", t.Width, t.Height, t.FPS)
}

// Options configures a Transcoder.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	// WorkDir holds every temporary file; names are random so concurrent runs
	// can share it.
	WorkDir string
}

// Transcoder drives ffmpeg and ffprobe. It is safe for concurrent use.
type Transcoder struct {
	ffmpegCmd  string
	ffprobeCmd string
	workDir    string
	runner     commandRunner
	newName    func(ext string) string
	remove     func(name string) error
}

func NewTranscoder(opts Options) *Transcoder {
	return newTranscoder(opts, execRunner{})
}

func newTranscoder(opts Options, runner commandRunner) *Transcoder {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &Transcoder{
		ffmpegCmd:  opts.FFmpegPath,
		ffprobeCmd: opts.FFprobePath,
		workDir:    opts.WorkDir,
		runner:     runner,
		newName: func(ext string) string {
			return uuid.NewString() + ext
		},
		remove: os.Remove,
	}
}

// Normalize re-encodes source (local path or URL) to H.264/AAC at the target
// resolution and frame rate. The output is written to a fresh file in the
// work dir; a partially written output is removed on failure.
func (t *Transcoder) Normalize(ctx context.Context, source string, target Target) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", &Error{Op: "normalize", Kind: ErrTranscode, Message: "source is required"}
	}
	output, err := t.tempPath(".mp4")
	if err != nil {
		return "", &Error{Op: "normalize", Kind: ErrTranscode, Message: "prepare work dir", Err: err}
	}

	args := normalizeArgs(source, output, target)
	log.Debug("Normalizing %s to %s: %s %s", source, target, t.ffmpegCmd, strings.Join(args, " "))

	res, err := t.runner.Run(ctx, t.ffmpegCmd, args...)
	if err != nil {
		t.discard(output)
		return "", &Error{
			Op:      "normalize",
			Kind:    ErrTranscode,
			Message: fmt.Sprintf("ffmpeg exited with %d for %s", res.ExitCode, source),
			Output:  res.Stderr,
			Err:     err,
		}
	}

	log.Info("Transcoded video saved to %s", output)
	return output, nil
}

// Concatenate joins pre-normalized files in the given order. Inputs are
// deleted only after a successful merge so failed runs can be inspected.
func (t *Transcoder) Concatenate(ctx context.Context, inputs []string) (string, error) {
	if len(inputs) == 0 {
		return "", &Error{Op: "concatenate", Kind: ErrConcatenation, Message: "no inputs to concatenate"}
	}

	listPath, err := t.writeConcatList(inputs)
	if err != nil {
		return "", &Error{Op: "concatenate", Kind: ErrConcatenation, Message: "write concat list", Err: err}
	}
	defer t.discard(listPath)

	output, err := t.tempPath(".mp4")
	if err != nil {
		return "", &Error{Op: "concatenate", Kind: ErrConcatenation, Message: "prepare work dir", Err: err}
	}

	args := concatArgs(listPath, output)
	log.Debug("Spawned ffmpeg with command: %s %s", t.ffmpegCmd, strings.Join(args, " "))

	res, err := t.runner.Run(ctx, t.ffmpegCmd, args...)
	if err != nil {
		t.discard(output)
		return "", &Error{
			Op:      "concatenate",
			Kind:    ErrConcatenation,
			Message: fmt.Sprintf("ffmpeg exited with %d merging %d files", res.ExitCode, len(inputs)),
			Output:  res.Stderr,
			Err:     err,
		}
	}

	for _, in := range inputs {
		if err := t.remove(in); err != nil {
			log.Warn("Error deleting file %s: %v", in, err)
			continue
		}
		log.Debug("Deleted transcoded file: %s", in)
	}
	return output, nil
}

// ExtractAudio writes the audio track of source as a mono 16 kHz mp3, the
// smallest input speech-to-text providers accept without losing accuracy.
func (t *Transcoder) ExtractAudio(ctx context.Context, source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", &Error{Op: "extract_audio", Kind: ErrExtraction, Message: "source is required"}
	}
	output, err := t.tempPath(".mp3")
	if err != nil {
		return "", &Error{Op: "extract_audio", Kind: ErrExtraction, Message: "prepare work dir", Err: err}
	}

	args := extractAudioArgs(source, output)
	res, err := t.runner.Run(ctx, t.ffmpegCmd, args...)
	if err != nil {
		t.discard(output)
		return "", &Error{
			Op:      "extract_audio",
			Kind:    ErrExtraction,
			Message: fmt.Sprintf("ffmpeg exited with %d for %s", res.ExitCode, source),
			Output:  res.Stderr,
			Err:     err,
		}
	}
	return output, nil
}

// Remove deletes a temporary file, ignoring files that are already gone.
func (t *Transcoder) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := t.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (t *Transcoder) tempPath(ext string) (string, error) {
	if err := os.MkdirAll(t.workDir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(t.workDir, t.newName(ext)), nil
}

func (t *Transcoder) discard(path string) {
	if err := t.Remove(path); err != nil {
		log.Warn("Failed to remove temporary file %s: %v", path, err)
	}
}

// writeConcatList creates the concat demuxer input, one `file '<path>'` line per input.
func (t *Transcoder) writeConcatList(inputs []string) (string, error) {
	listPath, err := t.tempPath(".txt")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return "", fmt.Errorf("absolute path for %s: %w", in, err)
		}
		escaped := strings.ReplaceAll(abs, "'", "'\\''")
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}

	if err := os.WriteFile(listPath, []byte(b.String()), 0o600); err != nil {
		return "", err
	}
	return listPath, nil
}

func normalizeArgs(source, output string, target Target) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", source,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-vf", fmt.Sprintf("scale=%d:%d,setsar=1", target.Width, target.Height),
		"-r", strconv.Itoa(target.FPS),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-ar", "44100",
		"-ac", "2",
		"-movflags", "+faststart",
		output,
	}
}

func concatArgs(listPath, output string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		output,
	}
}

func extractAudioArgs(source, output string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", source,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "libmp3lame",
		"-b:a", "64k",
		output,
	}
}
