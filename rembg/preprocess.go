package rembg

import (
	"context"
	"log/slog"

	"github.com/chaos-io/rembg-cli/util/imageutil"
)

// Preprocessor 在调用真正的 Remover 之前处理输入
//
//	SkipTransparent: 已经带透明通道的 PNG 直接返回，不再抠图
//	MaxSize: 最长边超过 MaxSize 时先缩放再上传（0 表示不缩放）
//
// 无法解码的输入原样交给 RemBG，由它返回自己的错误
type Preprocessor struct {
	RemBG           Remover
	MaxSize         int
	SkipTransparent bool
}

func NewPreprocessor(remBG Remover, maxSize int, skipTransparent bool) *Preprocessor {
	return &Preprocessor{
		RemBG:           remBG,
		MaxSize:         maxSize,
		SkipTransparent: skipTransparent,
	}
}

func (p *Preprocessor) Remove(ctx context.Context, input []byte) ([]byte, error) {
	if !p.SkipTransparent && p.MaxSize <= 0 {
		return p.RemBG.Remove(ctx, input)
	}

	img, format, err := imageutil.Decode(input)
	if err != nil {
		slog.Debug("preprocess skipped, input not decodable", "error", err)
		return p.RemBG.Remove(ctx, input)
	}

	// 1. 判断是否已有有效 Alpha
	if p.SkipTransparent && format == imageutil.FormatPNG && imageutil.HasUsefulAlpha(img) {
		slog.Info("input already has transparency, skipping background removal")
		return input, nil
	}

	// 2. 缩放（最长边 <= MaxSize）
	resized := imageutil.ResizeWithinMax(img, p.MaxSize)
	if resized == img {
		return p.RemBG.Remove(ctx, input)
	}

	data, err := imageutil.EncodePNG(resized)
	if err != nil {
		return nil, err
	}
	slog.Debug("input downscaled",
		"from", img.Bounds().Size().String(),
		"to", resized.Bounds().Size().String(),
		"bytes", len(data))

	// 3. 背景去除
	return p.RemBG.Remove(ctx, data)
}
