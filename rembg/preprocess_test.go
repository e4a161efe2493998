package rembg

import (
	"context"
	"errors"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/rembg-cli/util/imageutil"
)

func TestPreprocessor_Remove(t *testing.T) {
	t.Parallel()

	opaqueJPEG := encodeJPEG(t, solidImage(200, 100, color.RGBA{R: 255, A: 255}))
	opaquePNG := encodePNG(t, solidImage(40, 40, color.NRGBA{B: 255, A: 255}))
	cutout := solidImage(40, 40, color.NRGBA{B: 255, A: 255})
	cutout.SetNRGBA(0, 0, color.NRGBA{})
	cutoutPNG := encodePNG(t, cutout)

	tests := []struct {
		name            string
		input           []byte
		maxSize         int
		skipTransparent bool
		wantCalls       int32
		wantSameInput   bool
		wantInnerSize   [2]int
	}{
		{
			name:          "disabled passes through",
			input:         opaqueJPEG,
			wantCalls:     1,
			wantSameInput: true,
		},
		{
			name:            "transparent png skipped",
			input:           cutoutPNG,
			skipTransparent: true,
			wantCalls:       0,
		},
		{
			name:            "opaque png not skipped",
			input:           opaquePNG,
			skipTransparent: true,
			wantCalls:       1,
			wantSameInput:   true,
		},
		{
			name:          "large input downscaled",
			input:         opaqueJPEG,
			maxSize:       50,
			wantCalls:     1,
			wantInnerSize: [2]int{50, 25},
		},
		{
			name:          "small input untouched",
			input:         opaquePNG,
			maxSize:       50,
			wantCalls:     1,
			wantSameInput: true,
		},
		{
			name:          "undecodable input forwarded",
			input:         []byte("not an image"),
			maxSize:       50,
			wantCalls:     1,
			wantSameInput: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inner := &countingRemover{out: []byte("out")}
			p := NewPreprocessor(inner, tt.maxSize, tt.skipTransparent)

			got, err := p.Remove(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, inner.calls.Load())

			if tt.wantCalls == 0 {
				assert.Equal(t, tt.input, got)
				return
			}
			assert.Equal(t, []byte("out"), got)
			if tt.wantSameInput {
				assert.Equal(t, tt.input, inner.last)
			}
			if tt.wantInnerSize != [2]int{} {
				cfg, format, err := imageutil.DecodeConfig(inner.last)
				require.NoError(t, err)
				assert.Equal(t, imageutil.FormatPNG, format)
				assert.Equal(t, tt.wantInnerSize, [2]int{cfg.Width, cfg.Height})
			}
		})
	}
}

func TestPreprocessor_Remove_PropagatesError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("unsupported format")
	p := NewPreprocessor(&countingRemover{err: wantErr}, 64, true)

	_, err := p.Remove(context.Background(), []byte("garbage"))
	assert.ErrorIs(t, err, wantErr)
}
