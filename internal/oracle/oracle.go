// Package oracle is the client for the signature similarity service. The
// service turns signature images into embeddings and compares image pairs.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/nikhilbhutani/esignature/internal/apperr"
)

// Image is a signature image sent to the oracle.
type Image struct {
	Name string
	Data []byte
}

type Comparison struct {
	Match    bool    `json:"match"`
	Distance float64 `json:"distance"`
}

type Provider interface {
	Extract(ctx context.Context, img Image) ([]float32, error)
	Compare(ctx context.Context, a, b Image, threshold float64) (*Comparison, error)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type extractResp struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error"`
}

func (c *Client) Extract(ctx context.Context, img Image) ([]float32, error) {
	var out extractResp
	err := c.post(ctx, "/extract", func(w *multipart.Writer) error {
		return writeFile(w, "image", img)
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", apperr.ErrOracleUnavailable)
	}
	return out.Embedding, nil
}

func (c *Client) Compare(ctx context.Context, a, b Image, threshold float64) (*Comparison, error) {
	var out Comparison
	err := c.post(ctx, "/compare", func(w *multipart.Writer) error {
		if err := writeFile(w, "image1", a); err != nil {
			return err
		}
		if err := writeFile(w, "image2", b); err != nil {
			return err
		}
		return w.WriteField("threshold", strconv.FormatFloat(threshold, 'f', -1, 64))
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func writeFile(w *multipart.Writer, field string, img Image) error {
	name := img.Name
	if name == "" {
		name = field + ".png"
	}
	part, err := w.CreateFormFile(field, name)
	if err != nil {
		return fmt.Errorf("create form file %s: %w", field, err)
	}
	_, err = part.Write(img.Data)
	return err
}

// post sends a multipart form and decodes the JSON reply into out. Transport
// failures and non-2xx replies wrap apperr.ErrOracleUnavailable.
func (c *Client) post(ctx context.Context, path string, build func(*multipart.Writer) error, out any) error {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if err := build(mw); err != nil {
		return fmt.Errorf("oracle form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("oracle form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("oracle request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", apperr.ErrOracleUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s returned %d: %s", apperr.ErrOracleUnavailable, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", apperr.ErrOracleUnavailable, path, err)
	}
	return nil
}
