// Copyright 2024-2026 Aiku AI

// Package mediaconv shrinks media before it is relayed: images are resized
// and re-encoded as JPEG, videos are re-encoded with ffmpeg.
package mediaconv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/util/ffmpeg"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/aiku/whatsapp-relay/pkg/relay"
)

const (
	DefaultMaxWidth    = 1280
	DefaultJPEGQuality = 70
)

// DefaultVideoArgs are the ffmpeg output arguments used for videos.
var DefaultVideoArgs = []string{"-vcodec", "libx264", "-crf", "28", "-preset", "veryfast"}

// ErrEmptyInput is returned for payloads without data.
var ErrEmptyInput = errors.New("empty media payload")

// Transformer implements relay.MediaTransformer.
type Transformer struct {
	MaxWidth    int
	JPEGQuality int
	VideoArgs   []string

	// videoSupported reports whether ffmpeg can be run.
	videoSupported func() bool
	warnOnce       sync.Once
	log            zerolog.Logger
}

var _ relay.MediaTransformer = (*Transformer)(nil)

// New creates a transformer with the default settings.
func New(log zerolog.Logger) *Transformer {
	return &Transformer{
		MaxWidth:       DefaultMaxWidth,
		JPEGQuality:    DefaultJPEGQuality,
		VideoArgs:      DefaultVideoArgs,
		videoSupported: ffmpeg.Supported,
		log:            log.With().Str("component", "mediaconv").Logger(),
	}
}

// Image decodes in, scales it down to MaxWidth keeping the aspect ratio and
// re-encodes it as JPEG. Images narrower than MaxWidth are not enlarged.
func (t *Transformer) Image(_ context.Context, in *relay.MediaPayload) (*relay.MediaPayload, error) {
	if in.Size() == 0 {
		return nil, ErrEmptyInput
	}
	src, format, err := image.Decode(bytes.NewReader(in.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if maxWidth := t.maxWidth(); width > maxWidth {
		height = max(1, height*maxWidth/width)
		width = maxWidth
	}

	// JPEG has no alpha channel, so transparent areas are flattened onto white.
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: t.quality()}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	t.log.Debug().
		Str("format", format).
		Int("width", width).
		Int("height", height).
		Int("in_size", in.Size()).
		Int("out_size", buf.Len()).
		Msg("Recompressed image")
	return &relay.MediaPayload{
		Data:     buf.Bytes(),
		MimeType: "image/jpeg",
		FileName: replaceExt(in.FileName, ".jpg"),
	}, nil
}

// Video re-encodes in as H.264 MP4. Without ffmpeg on the host the input is
// returned unchanged.
func (t *Transformer) Video(ctx context.Context, in *relay.MediaPayload) (*relay.MediaPayload, error) {
	if in.Size() == 0 {
		return nil, ErrEmptyInput
	}
	if t.videoSupported != nil && !t.videoSupported() {
		t.warnOnce.Do(func() {
			t.log.Warn().Msg("ffmpeg not found, videos are forwarded without recompression")
		})
		return in, nil
	}
	args := t.VideoArgs
	if len(args) == 0 {
		args = DefaultVideoArgs
	}
	out, err := ffmpeg.ConvertBytes(ctx, in.Data, ".mp4", []string{}, args, in.MimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to recompress video: %w", err)
	}
	t.log.Debug().Int("in_size", in.Size()).Int("out_size", len(out)).Msg("Recompressed video")
	return &relay.MediaPayload{
		Data:     out,
		MimeType: "video/mp4",
		FileName: replaceExt(in.FileName, ".mp4"),
	}, nil
}

func (t *Transformer) maxWidth() int {
	if t.MaxWidth <= 0 {
		return DefaultMaxWidth
	}
	return t.MaxWidth
}

func (t *Transformer) quality() int {
	if t.JPEGQuality <= 0 || t.JPEGQuality > 100 {
		return DefaultJPEGQuality
	}
	return t.JPEGQuality
}

func replaceExt(name, ext string) string {
	if name == "" {
		return ""
	}
	if dot := strings.LastIndexByte(name, '.'); dot > 0 {
		name = name[:dot]
	}
	return name + ext
}
