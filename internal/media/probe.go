package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ProbeResult is the subset of ffprobe metadata the pipeline relies on.
type ProbeResult struct {
	Duration float64
	Width    int
	Height   int
	HasAudio bool
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads container metadata without decoding the media.
func (t *Transcoder) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &Error{Op: "probe", Kind: ErrProbe, Message: "path is required"}
	}

	res, err := t.runner.Run(ctx, t.ffprobeCmd, probeArgs(path)...)
	if err != nil {
		return nil, &Error{
			Op:      "probe",
			Kind:    ErrProbe,
			Message: fmt.Sprintf("ffprobe exited with %d for %s", res.ExitCode, path),
			Output:  res.Stderr,
			Err:     err,
		}
	}

	ret, err := parseProbe([]byte(res.Stdout))
	if err != nil {
		return nil, &Error{Op: "probe", Kind: ErrProbe, Message: path, Err: err}
	}
	return ret, nil
}

// ProbeDuration returns the media duration in seconds.
func (t *Transcoder) ProbeDuration(ctx context.Context, path string) (float64, error) {
	ret, err := t.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return ret.Duration, nil
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}
	if raw.Format.Duration == "" || raw.Format.Duration == "N/A" {
		return nil, fmt.Errorf("duration not available in format metadata")
	}
	duration, err := strconv.ParseFloat(raw.Format.Duration, 64)
	if err != nil {
		return nil, fmt.Errorf("parse duration %q: %w", raw.Format.Duration, err)
	}

	ret := &ProbeResult{Duration: duration}
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if ret.Width == 0 {
				ret.Width, ret.Height = s.Width, s.Height
			}
		case "audio":
			ret.HasAudio = true
		}
	}
	return ret, nil
}

func probeArgs(path string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
}
