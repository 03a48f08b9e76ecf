package transfer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/jaywantadh/ChunkStream/internal/block"
	"github.com/jaywantadh/ChunkStream/internal/compressor"
	"github.com/jaywantadh/ChunkStream/internal/storage"
	"github.com/jaywantadh/ChunkStream/internal/streaming"
)

// UploadResult is what the server reports for a completed upload.
type UploadResult struct {
	TransferID string
	Digest     string
	Bytes      int64
}

// Client talks to a ChunkStream server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	pool       *block.Pool
	depth      int
}

// NewClient creates a new transfer client. Requests are bounded by their
// context rather than a client timeout since bodies may be arbitrarily large.
func NewClient(baseURL string, pool *block.Pool) *Client {
	if pool == nil {
		pool = block.NewPool(block.DefaultSize)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		pool:       pool,
		depth:      streaming.DefaultDepth,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Upload streams the file at path to POST /upload.
func (c *Client) Upload(ctx context.Context, path string) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open upload")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat upload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathUpload, f)
	if err != nil {
		return nil, err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send upload")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}
	ack, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read upload acknowledgement")
	}
	if string(ack) != UploadAck {
		return nil, errors.Errorf("unexpected upload acknowledgement %q", ack)
	}

	return &UploadResult{
		TransferID: resp.Header.Get(HeaderTransferID),
		Digest:     resp.Header.Get(HeaderDigest),
		Bytes:      info.Size(),
	}, nil
}

// Download fetches GET /download into dst. filter may be empty.
func (c *Client) Download(ctx context.Context, dst, filter string) (*streaming.Result, error) {
	u := c.baseURL + PathDownload
	if filter != "" {
		u += "?" + url.Values{"filter": {filter}}.Encode()
	}
	return c.fetch(ctx, u, dst, false)
}

// FetchFile fetches a stored file into dst, asking for lz4 encoding.
func (c *Client) FetchFile(ctx context.Context, name, dst string) (*streaming.Result, error) {
	return c.fetch(ctx, c.baseURL+PathFiles+"/"+url.PathEscape(name), dst, true)
}

// PutFile stores the local file at path on the server under name.
func (c *Client) PutFile(ctx context.Context, path, name string) (*FileUploadResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathFiles+"/"+url.PathEscape(name), f)
	if err != nil {
		return nil, err
	}
	if info, err := f.Stat(); err == nil {
		req.ContentLength = info.Size()
	}

	var stored FileUploadResponse
	if err := c.doJSON(req, http.StatusCreated, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// ListFiles lists the files the server stores.
func (c *Client) ListFiles(ctx context.Context) ([]storage.FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathFiles, nil)
	if err != nil {
		return nil, err
	}
	var resp FilesResponse
	if err := c.doJSON(req, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// TransferStatus looks up a transfer, open or finished.
func (c *Client) TransferStatus(ctx context.Context, id string) (*TransferLookupResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathTransfers+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var resp TransferLookupResponse
	if err := c.doJSON(req, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// fetch streams a GET response body into dst through a committing sink, so a
// failed transfer never leaves a partial dst behind.
func (c *Client) fetch(ctx context.Context, u, dst string, acceptLZ4 bool) (*streaming.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if acceptLZ4 {
		req.Header.Set("Accept-Encoding", compressor.Encoding)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == compressor.Encoding {
		body = compressor.NewReader(resp.Body)
	}

	dir := filepath.Dir(dst)
	sink := streaming.NewSink(dir, "."+filepath.Base(dst)+".part-*", streaming.WithCommit(dst))
	res, err := streaming.Upload(ctx, body, c.pool, sink, streaming.Options{Depth: c.depth})
	if err != nil {
		return nil, err
	}

	if resp.ContentLength >= 0 && resp.Header.Get("Content-Encoding") == "" && res.Bytes != resp.ContentLength {
		_ = os.Remove(res.Path)
		return nil, errors.Errorf("short body: got %d of %d bytes", res.Bytes, resp.ContentLength)
	}
	return res, nil
}

func (c *Client) doJSON(req *http.Request, want int, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return readError(resp)
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "failed to decode response")
}

// readError turns a non-success response into an error, using the server's
// ErrorResponse body when there is one.
func readError(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&er); err == nil && er.Message != "" {
		return errors.Errorf("server returned %d: %s", resp.StatusCode, er.Message)
	}
	return errors.Errorf("server returned %s", resp.Status)
}
