// Package rembg 定义背景去除能力 Remover 以及它的几种实现：
// rembg HTTP 服务、ComfyUI BiRefNet 工作流、Redis 缓存和输入预处理装饰器。
package rembg

import (
	"context"
	"fmt"
	"strings"
)

const (
	BackendRembg   = "rembg"
	BackendComfyUI = "comfyui"
	BackendNone    = "none"
)

// Remover 接收编码后的图片字节，返回去除背景后的图片字节（通常为 PNG）
type Remover interface {
	Remove(ctx context.Context, input []byte) ([]byte, error)
}

type RemoverFunc func(ctx context.Context, input []byte) ([]byte, error)

func (f RemoverFunc) Remove(ctx context.Context, input []byte) ([]byte, error) {
	return f(ctx, input)
}

// NopRemBG 原样返回输入，用于演练整个流程
type NopRemBG struct{}

func NewNopRemBG() *NopRemBG {
	return &NopRemBG{}
}

func (d *NopRemBG) Remove(_ context.Context, input []byte) ([]byte, error) {
	return input, nil
}

// Backends 返回支持的后端名称
func Backends() []string {
	return []string{BackendRembg, BackendComfyUI, BackendNone}
}

func IsBackend(name string) bool {
	for _, b := range Backends() {
		if strings.EqualFold(b, name) {
			return true
		}
	}
	return false
}

type Options struct {
	Backend  string
	Endpoint string
	Server   []ServerOption
	BiRefNet []BiRefNetOption
}

// New 按后端名称创建 Remover
func New(opts Options) (Remover, error) {
	switch strings.ToLower(opts.Backend) {
	case BackendRembg, "":
		return NewServerRemBG(opts.Endpoint, opts.Server...), nil
	case BackendComfyUI:
		return NewBiRefNetRemBG(opts.Endpoint, opts.BiRefNet...), nil
	case BackendNone:
		return NewNopRemBG(), nil
	default:
		return nil, fmt.Errorf("unsupported rembg backend %q (want one of %s)", opts.Backend, strings.Join(Backends(), ", "))
	}
}
