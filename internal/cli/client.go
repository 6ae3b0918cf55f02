package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apiserver "github.com/kubev2v/cutout/internal/api_server"
	"github.com/kubev2v/cutout/internal/pipeline"
	"github.com/kubev2v/cutout/internal/store/model"
)

const apiPrefix = "/api/v1"

// Client talks to a running cutout server.
type Client struct {
	base *url.URL
	http *http.Client
}

func NewClient(serverUrl string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(serverUrl, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	return &Client{base: base, http: &http.Client{Timeout: timeout}}, nil
}

// ErrResponse is an error reply of the server.
type ErrResponse struct {
	StatusCode int
	Message    string
}

func (e *ErrResponse) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server replied %d", e.StatusCode)
	}
	return fmt.Sprintf("server replied %d: %s", e.StatusCode, e.Message)
}

func (c *Client) ListJobs(ctx context.Context) ([]pipeline.JobView, error) {
	var reply apiserver.JobListReply
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/jobs", nil, "", &reply); err != nil {
		return nil, err
	}
	return reply.Jobs, nil
}

func (c *Client) GetJob(ctx context.Context, id string) (pipeline.JobView, error) {
	var view pipeline.JobView
	err := c.do(ctx, http.MethodGet, apiPrefix+"/jobs/"+url.PathEscape(id), nil, "", &view)
	return view, err
}

func (c *Client) Result(ctx context.Context, id string) ([]byte, error) {
	var buf bytes.Buffer
	err := c.do(ctx, http.MethodGet, apiPrefix+"/jobs/"+url.PathEscape(id)+"/result", nil, "", &buf)
	return buf.Bytes(), err
}

// AddJob uploads one image as a multipart form.
func (c *Client) AddJob(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var reply apiserver.JobCreatedReply
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/jobs", &body, mw.FormDataContentType(), &reply); err != nil {
		return "", err
	}
	return reply.ID, nil
}

func (c *Client) RemoveJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, apiPrefix+"/jobs/"+url.PathEscape(id), nil, "", nil)
}

func (c *Client) ClearJobs(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, apiPrefix+"/jobs", nil, "", nil)
}

func (c *Client) StartBatch(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, apiPrefix+"/batch", nil, "", nil)
}

func (c *Client) Status(ctx context.Context) (pipeline.Status, error) {
	var st pipeline.Status
	err := c.do(ctx, http.MethodGet, apiPrefix+"/status", nil, "", &st)
	return st, err
}

func (c *Client) History(ctx context.Context, limit int) (model.JobRecordList, error) {
	path := apiPrefix + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var reply apiserver.HistoryReply
	if err := c.do(ctx, http.MethodGet, path, nil, "", &reply); err != nil {
		return nil, err
	}
	return reply.Records, nil
}

// do sends the request and decodes a JSON reply into out. A *bytes.Buffer
// out receives the raw body.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	target := c.base.String() + path
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var reply apiserver.ErrorReply
		_ = json.NewDecoder(resp.Body).Decode(&reply)
		return &ErrResponse{StatusCode: resp.StatusCode, Message: reply.Message}
	}

	switch v := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		_, err = io.Copy(v, resp.Body)
		return err
	default:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding reply of %s %s: %w", method, path, err)
		}
		return nil
	}
}
