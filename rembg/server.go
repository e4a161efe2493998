package rembg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	nhttp "github.com/chaos-io/rembg-cli/util/http"
	"github.com/chaos-io/rembg-cli/util/imageutil"
)

const (
	DefaultServerURL = "http://localhost:7000"
	removePath       = "/api/remove"
)

// ServerRemBG 调用 `rembg s` 启动的 HTTP 服务
type ServerRemBG struct {
	baseURL string
	model   string
	cli     nhttp.IClient
}

type ServerOption func(*ServerRemBG)

func WithServerClient(cli nhttp.IClient) ServerOption {
	return func(s *ServerRemBG) { s.cli = cli }
}

// WithServerModel 指定服务端模型，例如 u2net、isnet-general-use、birefnet-general
func WithServerModel(model string) ServerOption {
	return func(s *ServerRemBG) { s.model = model }
}

func NewServerRemBG(baseURL string, opts ...ServerOption) *ServerRemBG {
	if baseURL == "" {
		baseURL = DefaultServerURL
	}
	s := &ServerRemBG{
		baseURL: strings.TrimRight(baseURL, "/"),
		cli:     nhttp.NewHTTPClient(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

/*
	curl -X POST "$BASE_URL/api/remove" \
	  -F "file=@my_image.jpg" \
	  -F "model=u2net" \
	  -o out.png
*/
func (s *ServerRemBG) Remove(ctx context.Context, input []byte) ([]byte, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image."+fileExt(input))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(input); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if s.model != "" {
		_ = writer.WriteField("model", s.model)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	var output []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: s.baseURL + removePath,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   &output,
	}
	if err := s.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if len(output) == 0 {
		return nil, errors.New("rembg server returned an empty body")
	}

	slog.Debug("rembg server responded", "url", reqParam.RequestURI, "input_bytes", len(input), "output_bytes", len(output))
	return output, nil
}

func fileExt(data []byte) string {
	switch f := imageutil.Sniff(data); f {
	case "":
		return "bin"
	case imageutil.FormatJPEG:
		return "jpg"
	default:
		return f
	}
}
