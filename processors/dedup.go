package processors

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"

	"videoAssess/core"
)

// Frames are compared on a small fixed-size thumbnail; the metric is the
// mean absolute per-channel difference normalized to [0,1].
const thumbSize = 32

type thumbnail [thumbSize * thumbSize * 3]float64

// DeduplicateFrames keeps the subsequence of visually distinct frames.
// Frame 0 is always kept. Every later frame is compared against the last
// retained frame, not its immediate neighbor, so slow drift cannot
// accumulate into an undetected large change. A frame is retained when its
// difference score exceeds the threshold, and then becomes the new anchor.
func DeduplicateFrames(frames []core.Frame, threshold float64) ([]core.Frame, error) {
	if len(frames) == 0 {
		return nil, nil
	}

	kept := make([]core.Frame, 0, len(frames))
	anchor, err := loadThumbnail(frames[0].Path)
	if err != nil {
		return nil, fmt.Errorf("load first frame %s: %v", frames[0].Path, err)
	}
	kept = append(kept, frames[0])

	for _, frame := range frames[1:] {
		thumb, err := loadThumbnail(frame.Path)
		if err != nil {
			// A single unreadable frame should not sink the job.
			log.Printf("skip unreadable frame %s: %v", frame.Path, err)
			continue
		}
		if frameDiff(anchor, thumb) > threshold {
			kept = append(kept, frame)
			anchor = thumb
		}
	}
	return kept, nil
}

func loadThumbnail(path string) (*thumbnail, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}

	// Nearest-neighbor downscale; good enough for a difference metric.
	var t thumbnail
	for y := 0; y < thumbSize; y++ {
		srcY := bounds.Min.Y + y*h/thumbSize
		for x := 0; x < thumbSize; x++ {
			srcX := bounds.Min.X + x*w/thumbSize
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			i := (y*thumbSize + x) * 3
			t[i] = float64(r >> 8)
			t[i+1] = float64(g >> 8)
			t[i+2] = float64(b >> 8)
		}
	}
	return &t, nil
}

// frameDiff returns the normalized difference score in [0,1].
func frameDiff(a, b *thumbnail) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(len(a)) / 255.0
}
