// Package graph is the HTTP transport shared by the Instagram and Facebook
// adapters.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/logutil"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/publish"
	"github.com/hashicorp/go-cleanhttp"
)

const (
	DefaultBaseURL = "https://graph.facebook.com"
	DefaultVersion = "v21.0"

	maxBodyBytes = 1 << 20
)

// Config locates the Graph API and bounds each call.
type Config struct {
	BaseURL string
	Version string
	Timeout time.Duration
	// UploadTimeout bounds binary transfers. Defaults to Timeout.
	UploadTimeout time.Duration
}

// Client issues Graph API calls for one provider name.
type Client struct {
	provider string
	baseURL  string
	version  string
	http     *http.Client
	upload   *http.Client
}

// Response is the union of the fields Graph endpoints return on success.
type Response struct {
	ID        string          `json:"id"`
	PostID    string          `json:"post_id"`
	VideoID   string          `json:"video_id"`
	UploadURL string          `json:"upload_url"`
	Success   bool            `json:"success"`
	Raw       json.RawMessage `json:"-"`
}

type apiError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	UserTitle    string `json:"error_user_title"`
	UserMsg      string `json:"error_user_msg"`
	FBTraceID    string `json:"fbtrace_id"`
}

// New builds a client. provider names the adapter in errors and logs.
func New(provider string, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = cfg.Timeout
	}

	api := cleanhttp.DefaultPooledClient()
	api.Timeout = cfg.Timeout
	upload := cleanhttp.DefaultPooledClient()
	upload.Timeout = cfg.UploadTimeout

	return &Client{
		provider: provider,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		version:  strings.Trim(cfg.Version, "/"),
		http:     api,
		upload:   upload,
	}
}

// Endpoint returns the versioned URL for a node/edge path such as "123/media".
func (c *Client) Endpoint(path string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, c.version, strings.TrimLeft(path, "/"))
}

// PostForm sends a urlencoded POST. The access token is added to the form.
func (c *Client) PostForm(ctx context.Context, stage publish.Stage, path, token string, form url.Values) (Response, error) {
	if form == nil {
		form = url.Values{}
	}
	form.Set("access_token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(path), strings.NewReader(form.Encode()))
	if err != nil {
		return Response{}, publish.Transport(c.provider, stage, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(c.http, req, stage)
}

// File is a binary part of a multipart upload.
type File struct {
	Field    string
	Name     string
	Data     []byte
	MimeType string
}

// PostMultipart sends fields plus one file part.
func (c *Client) PostMultipart(ctx context.Context, stage publish.Stage, path, token string, fields map[string]string, file File) (Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("access_token", token); err != nil {
		return Response{}, publish.Transport(c.provider, stage, err)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return Response{}, publish.Transport(c.provider, stage, err)
		}
	}
	fw, err := w.CreatePart(filePartHeader(file))
	if err != nil {
		return Response{}, publish.Transport(c.provider, stage, err)
	}
	if _, err := fw.Write(file.Data); err != nil {
		return Response{}, publish.Transport(c.provider, stage, err)
	}
	if err := w.Close(); err != nil {
		return Response{}, publish.Transport(c.provider, stage, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(path), &buf)
	if err != nil {
		return Response{}, publish.Transport(c.provider, stage, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(c.upload, req, stage)
}

func filePartHeader(f File) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.Name))
	mimeType := f.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	return h
}

// PutBinary PUTs data to an absolute upload URL in one request with a byte
// range covering the whole payload.
func (c *Client) PutBinary(ctx context.Context, stage publish.Stage, uploadURL, token string, data []byte, contentType string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return Response{}, publish.Transport(c.provider, stage, err)
	}
	size := len(data)
	req.ContentLength = int64(size)
	req.Header.Set("Authorization", "OAuth "+token)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Range", ContentRange(size))
	req.Header.Set("offset", "0")
	req.Header.Set("file_size", strconv.Itoa(size))
	return c.do(c.upload, req, stage)
}

// ContentRange renders the header value for a single chunk spanning size bytes.
func ContentRange(size int) string {
	if size == 0 {
		return "bytes */0"
	}
	return fmt.Sprintf("bytes 0-%d/%d", size-1, size)
}

func (c *Client) do(client *http.Client, req *http.Request, stage publish.Stage) (Response, error) {
	req.Header.Set("Accept", "application/json")
	logutil.Debugf("graph request: provider=%s stage=%s method=%s path=%s", c.provider, stage, req.Method, req.URL.Path)

	resp, err := client.Do(req)
	if err != nil {
		return Response{}, publish.Transport(c.provider, stage, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{}, publish.Transport(c.provider, stage, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, c.decodeError(stage, resp.StatusCode, body)
	}

	var out Response
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return Response{}, &publish.UpstreamError{
				Provider:   c.provider,
				Stage:      stage,
				StatusCode: resp.StatusCode,
				Code:       publish.CodeMalformed,
				Message:    fmt.Sprintf("malformed response: %v", err),
				Transient:  true,
				Debug:      map[string]any{"body": publish.Truncate(string(body), 1200)},
				Err:        err,
			}
		}
	}
	out.Raw = body
	return out, nil
}

func (c *Client) decodeError(stage publish.Stage, status int, body []byte) error {
	var envelope struct {
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return &publish.UpstreamError{
			Provider:   c.provider,
			Stage:      stage,
			StatusCode: status,
			Code:       fmt.Sprintf("http_%d", status),
			Message:    publish.Truncate(strings.TrimSpace(string(body)), 400),
			Transient:  status >= 500,
			Debug:      map[string]any{"body": publish.Truncate(string(body), 1200)},
		}
	}

	e := envelope.Error
	msg := e.Message
	if e.UserMsg != "" {
		msg = e.UserMsg
	}
	up := &publish.UpstreamError{
		Provider:   c.provider,
		Stage:      stage,
		StatusCode: status,
		Code:       strconv.Itoa(e.Code),
		Message:    publish.Truncate(msg, 400),
		Transient:  status >= 500,
	}
	if e.ErrorSubcode != 0 {
		up.Subcode = strconv.Itoa(e.ErrorSubcode)
	}
	if e.FBTraceID != "" {
		up.Debug = map[string]any{"fbtrace_id": e.FBTraceID, "type": e.Type}
	}
	return up
}

// IsCode reports whether err is a Graph error with the given code, and with
// the given subcode when subcode is non-zero.
func IsCode(err error, code, subcode int) bool {
	var up *publish.UpstreamError
	if !errors.As(err, &up) {
		return false
	}
	if up.Code != strconv.Itoa(code) {
		return false
	}
	return subcode == 0 || up.Subcode == strconv.Itoa(subcode)
}

// IsSubcode reports whether err carries the given Graph error subcode.
func IsSubcode(err error, subcode int) bool {
	var up *publish.UpstreamError
	return errors.As(err, &up) && up.Subcode == strconv.Itoa(subcode)
}

// MissingID reports a successful response that lacked the expected id.
func (c *Client) MissingID(stage publish.Stage, resp Response) error {
	return &publish.UpstreamError{
		Provider:  c.provider,
		Stage:     stage,
		Code:      publish.CodeMalformed,
		Message:   "response carried no id",
		Transient: true,
		Debug:     map[string]any{"body": string(resp.Raw)},
	}
}
