package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ImageSink stores captured images.
type ImageSink interface {
	Save(ctx context.Context, camera string, missionID int, image []byte) error
}

// FileSink writes images as <camera>_<missionID>.png under Dir.
type FileSink struct {
	Dir string
}

// Path returns the file an image is written to.
func (s FileSink) Path(camera string, missionID int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s_%d.png", camera, missionID))
}

// Save writes the image bytes unmodified.
func (s FileSink) Save(ctx context.Context, camera string, missionID int, image []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Dir != "" {
		if err := os.MkdirAll(s.Dir, 0o755); err != nil {
			return fmt.Errorf("create image dir: %w", err)
		}
	}
	if err := os.WriteFile(s.Path(camera, missionID), image, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}
