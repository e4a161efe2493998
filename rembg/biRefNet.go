package rembg

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/segmentio/ksuid"

	nhttp "github.com/chaos-io/rembg-cli/util/http"
)

const (
	BiRefNetModel     = "BiRefNet"
	DefaultComfyUIURL = "http://127.0.0.1:8188"
	uploadPath        = "/api/upload/image"
	promptPath        = "/api/prompt"
	historyPath       = "/api/history/"
	viewPath          = "/api/view"
	loadImageClass    = "LoadImage"
	saveImageClass    = "SaveImage"
	defaultPollEvery  = time.Second
	statusError       = "error"
)

//go:embed workflow.json
var workflowData []byte

// BiRefNetRemBG 通过 ComfyUI 执行 BiRefNet 抠图工作流
type BiRefNetRemBG struct {
	baseURL   string
	workflow  []byte
	pollEvery time.Duration
	cli       nhttp.IClient
}

type BiRefNetOption func(*BiRefNetRemBG)

func WithBiRefNetClient(cli nhttp.IClient) BiRefNetOption {
	return func(b *BiRefNetRemBG) { b.cli = cli }
}

// WithWorkflow 替换内置的工作流（ComfyUI API 格式），需要包含 LoadImage 和 SaveImage 节点
func WithWorkflow(workflow []byte) BiRefNetOption {
	return func(b *BiRefNetRemBG) { b.workflow = workflow }
}

func WithPollInterval(d time.Duration) BiRefNetOption {
	return func(b *BiRefNetRemBG) {
		if d > 0 {
			b.pollEvery = d
		}
	}
}

func NewBiRefNetRemBG(baseURL string, opts ...BiRefNetOption) *BiRefNetRemBG {
	if baseURL == "" {
		baseURL = DefaultComfyUIURL
	}
	b := &BiRefNetRemBG{
		baseURL:   strings.TrimRight(baseURL, "/"),
		workflow:  workflowData,
		pollEvery: defaultPollEvery,
		cli:       nhttp.NewHTTPClient(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BiRefNetRemBG) Remove(ctx context.Context, input []byte) ([]byte, error) {
	uploaded, err := b.uploadImage(ctx, input)
	if err != nil {
		return nil, err
	}

	promptID, saveNode, err := b.prompt(ctx, uploaded)
	if err != nil {
		return nil, err
	}

	out, err := b.waitOutput(ctx, promptID, saveNode)
	if err != nil {
		return nil, err
	}

	return b.view(ctx, out)
}

type imageRef struct {
	Name      string `json:"name,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

/*
	curl -X POST "$BASE_URL/api/upload/image" \
	  -F "image=@my_image.png" \
	  -F "type=input" \
	  -F "overwrite=true"

{"name": "my_image1.png", "subfolder": "", "type": "input"}%
*/
func (b *BiRefNetRemBG) uploadImage(ctx context.Context, input []byte) (*imageRef, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	// 用 ksuid 生成文件名，避免覆盖其他任务的输入
	part, err := writer.CreateFormFile("image", ksuid.New().String()+"."+fileExt(input))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(input); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}

	_ = writer.WriteField("type", "input")
	_ = writer.WriteField("overwrite", "true")
	_ = writer.Close()

	resp := &imageRef{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + uploadPath,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	if resp.Name == "" {
		return nil, errors.New("upload image: empty file name in response")
	}

	slog.Debug("image uploaded", "name", resp.Name, "subfolder", resp.Subfolder, "type", resp.Type)
	return resp, nil
}

type promptReq struct {
	Prompt   map[string]*workflowNode `json:"prompt"`
	ClientID string                   `json:"client_id"`
}

type promptResp struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	Error      any            `json:"error,omitempty"`
	NodeErrors map[string]any `json:"node_errors,omitempty"`
}

type workflowNode struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      map[string]any `json:"_meta,omitempty"`
}

/*
	curl -X POST "$BASE_URL/api/prompt" \
	  -H "Content-Type: application/json" \
	  -d '{"prompt": '"$(cat workflow.json)"'}'
*/
func (b *BiRefNetRemBG) prompt(ctx context.Context, uploaded *imageRef) (promptID, saveNode string, err error) {
	wk := map[string]*workflowNode{}
	if err := json.Unmarshal(b.workflow, &wk); err != nil {
		return "", "", fmt.Errorf("unmarshal workflow data: %w", err)
	}

	loaded := false
	for id, node := range wk {
		if node == nil {
			continue
		}
		switch node.ClassType {
		case loadImageClass:
			image := uploaded.Name
			if uploaded.Subfolder != "" {
				image = uploaded.Subfolder + "/" + uploaded.Name
			}
			if node.Inputs == nil {
				node.Inputs = map[string]any{}
			}
			node.Inputs["image"] = image
			loaded = true
		case saveImageClass:
			saveNode = id
		}
	}
	if !loaded || saveNode == "" {
		return "", "", errors.New("workflow must contain LoadImage and SaveImage nodes")
	}

	resp := &promptResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + promptPath,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": "application/json"},
		Body:       &promptReq{Prompt: wk, ClientID: ksuid.New().String()},
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return "", "", fmt.Errorf("queue prompt: %w", err)
	}
	if resp.Error != nil || len(resp.NodeErrors) > 0 {
		return "", "", fmt.Errorf("queue prompt: error=%v node_errors=%v", resp.Error, resp.NodeErrors)
	}
	if resp.PromptID == "" {
		return "", "", errors.New("queue prompt: empty prompt id")
	}

	slog.Debug("prompt queued", "prompt_id", resp.PromptID, "number", resp.Number)
	return resp.PromptID, saveNode, nil
}

type historyEntry struct {
	Outputs map[string]struct {
		Images []imageRef `json:"images"`
	} `json:"outputs"`
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
		Messages  []any  `json:"messages"`
	} `json:"status"`
}

// waitOutput 轮询 history 直到任务完成，返回 SaveImage 节点的第一张图
func (b *BiRefNetRemBG) waitOutput(ctx context.Context, promptID, saveNode string) (*imageRef, error) {
	ticker := time.NewTicker(b.pollEvery)
	defer ticker.Stop()

	for {
		history := map[string]*historyEntry{}
		reqParam := &nhttp.RequestParam{
			RequestURI: b.baseURL + historyPath + url.PathEscape(promptID),
			Method:     http.MethodGet,
			Response:   &history,
		}
		if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
			return nil, fmt.Errorf("get history: %w", err)
		}

		if entry, ok := history[promptID]; ok && entry != nil {
			if entry.Status.StatusStr == statusError {
				return nil, fmt.Errorf("prompt %s failed: %v", promptID, entry.Status.Messages)
			}
			if out, ok := entry.Outputs[saveNode]; ok && len(out.Images) > 0 {
				return &out.Images[0], nil
			}
			if entry.Status.Completed {
				return nil, fmt.Errorf("prompt %s completed without output from node %s", promptID, saveNode)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *BiRefNetRemBG) view(ctx context.Context, ref *imageRef) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)

	var output []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + viewPath + "?" + q.Encode(),
		Method:     http.MethodGet,
		Response:   &output,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("view image: %w", err)
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("view image: empty body for %s", ref.Filename)
	}
	return output, nil
}
