package video

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Info is the subset of ffprobe metadata a counting run needs.
type Info struct {
	Width       int
	Height      int
	FPS         float64
	TotalFrames int // 0 when unknown
	Rotation    int // display rotation in degrees; Width/Height are already post-rotation
}

// ffprobeOutput is the structured JSON emitted by ffprobe -of json
type ffprobeOutput struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		RFrameRate    string `json:"r_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
		Tags          struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			Rotation float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
}

// Probe reads dimensions, frame rate and (if cheap) the frame count of the first video stream.
func Probe(ctx context.Context, path string) (Info, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return Info{}, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate,nb_frames:stream_tags=rotate:stream_side_data=rotation",
		"-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (Info, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return Info{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return Info{}, fmt.Errorf("no video stream found")
	}
	s := res.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return Info{}, fmt.Errorf("invalid video dimensions %dx%d", s.Width, s.Height)
	}

	fps := parseRate(s.AvgFrameRate)
	if fps <= 0 {
		fps = parseRate(s.RFrameRate)
	}
	if fps <= 0 {
		// Same fallback the CV tooling uses when the container lies about its rate
		fps = 25
	}

	// FFmpeg autorotates while decoding, so a quarter turn swaps the decoded axes
	w, h := s.Width, s.Height
	rot := 0.0
	for _, sd := range s.SideDataList {
		if sd.Rotation != 0 {
			rot = sd.Rotation
			break
		}
	}
	if rot == 0 && s.Tags.Rotate != "" {
		rot, _ = strconv.ParseFloat(s.Tags.Rotate, 64)
	}
	if quarterTurn(rot) {
		w, h = h, w
	}

	total, _ := strconv.Atoi(s.NbFrames)
	return Info{Width: w, Height: h, FPS: fps, TotalFrames: total, Rotation: int(rot)}, nil
}

func quarterTurn(deg float64) bool {
	r := int(math.Round(deg)) % 180
	return r == 90 || r == -90
}

// parseRate turns "30000/1001" or "25" into a float. Returns 0 on failure.
func parseRate(r string) float64 {
	num, den, found := strings.Cut(r, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// CountFrames counts packets when the container metadata has no frame count.
// It returns 0 if the count fails, allowing the caller to fall back to a spinner.
func CountFrames(ctx context.Context, path string) int {
	fmt.Fprintf(os.Stderr, "⏳ Metadata missing. Counting frames (this may take a moment)...\n")
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)

	out, err := cmd.Output()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe failed: %v\n", err)
		return 0
	}

	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil || len(res.Streams) == 0 {
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		return 0
	}
	return count
}
