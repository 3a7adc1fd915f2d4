// File: internal/infra/adapters/ocr/http_client.go
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"receipt-ocr/internal/domain"
	"receipt-ocr/internal/domain/model"
	"receipt-ocr/internal/domain/ports/adapter"
	"receipt-ocr/internal/infra/metrics"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var _ adapter.OCRClient = (*HTTPClient)(nil)

// MaxBatchFiles is the engine's per-request file limit.
const MaxBatchFiles = 100

const maxErrorBody = 512

// HTTPClient talks to the OCR engine's REST API. It never retries.
type HTTPClient struct {
	baseURL      string
	client       *http.Client
	submitSchema *jsonschema.Schema
	statusSchema *jsonschema.Schema
}

func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid ocr base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("invalid ocr base url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	submit, err := compileSchema("submit.json", submitResponseSchema)
	if err != nil {
		return nil, err
	}
	status, err := compileSchema("status.json", statusResponseSchema)
	if err != nil {
		return nil, err
	}
	return &HTTPClient{
		baseURL:      strings.TrimRight(u.String(), "/"),
		client:       &http.Client{Timeout: timeout},
		submitSchema: submit,
		statusSchema: status,
	}, nil
}

// ---- wire types ----

type submitResponse struct {
	JobID          string `json:"jobId"`
	Status         string `json:"status"`
	TotalFiles     int    `json:"totalFiles"`
	ProcessedFiles int    `json:"processedFiles"`
	Message        string `json:"message"`
}

type flexFloat struct{ v *float64 }

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return nil
	}
	f.v = &v
	return nil
}

type wireItem struct {
	Name       string    `json:"name"`
	Quantity   flexFloat `json:"quantity"`
	UnitPrice  flexFloat `json:"unitPrice"`
	TotalPrice flexFloat `json:"totalPrice"`
}

type wireExtracted struct {
	Date           string     `json:"date"`
	MerchantName   string     `json:"merchantName"`
	BusinessNumber string     `json:"businessNumber"`
	TotalAmount    flexFloat  `json:"totalAmount"`
	Items          []wireItem `json:"items"`
	RawText        string     `json:"rawText"`
}

type wireFileResult struct {
	Filename       string         `json:"filename"`
	Success        bool           `json:"success"`
	Confidence     float64        `json:"confidence"`
	EngineUsed     string         `json:"engineUsed"`
	ExtractedData  *wireExtracted `json:"extractedData"`
	ProcessingTime float64        `json:"processingTime"` // seconds
	Error          string         `json:"error"`
}

type statusResponse struct {
	JobID          string           `json:"jobId"`
	SettlementID   string           `json:"settlementId"`
	Status         string           `json:"status"`
	TotalFiles     int              `json:"totalFiles"`
	ProcessedFiles int              `json:"processedFiles"`
	SuccessFiles   int              `json:"successFiles"`
	FailedFiles    int              `json:"failedFiles"`
	Results        []wireFileResult `json:"results"`
	ErrorMessage   string           `json:"errorMessage"`
	CreatedAt      string           `json:"createdAt"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ---- operations ----

func (c *HTTPClient) SubmitBatch(ctx context.Context, files []adapter.OCRFile, settlementID string) (*adapter.OCRJobHandle, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: at least one file is required", domain.ErrInvalidRequest)
	}
	if len(files) > MaxBatchFiles {
		return nil, fmt.Errorf("%w: at most %d files per batch", domain.ErrInvalidRequest, MaxBatchFiles)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, f := range files {
		if f.Filename == "" || len(f.Data) == 0 {
			return nil, fmt.Errorf("%w: file %d is empty or unnamed", domain.ErrInvalidRequest, i)
		}
		ct := f.ContentType
		if ct == "" {
			ct = http.DetectContentType(f.Data)
		}
		if !strings.HasPrefix(strings.ToLower(ct), "image/") {
			return nil, fmt.Errorf("%w: unsupported content type %q for %s", domain.ErrInvalidRequest, ct, f.Filename)
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, quoteEscaper.Replace(f.Filename)))
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("build multipart: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("build multipart: %w", err)
		}
	}
	if settlementID != "" {
		if err := mw.WriteField("settlement_id", settlementID); err != nil {
			return nil, fmt.Errorf("build multipart: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/ocr/process", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	raw, code, err := c.do(req, "submit")
	if err != nil {
		return nil, err
	}
	switch {
	case code >= 500:
		return nil, fmt.Errorf("%w: submit returned %d: %s", domain.ErrServiceUnavailable, code, raw)
	case code >= 400:
		return nil, fmt.Errorf("%w: engine rejected batch (%d): %s", domain.ErrInvalidRequest, code, raw)
	}
	if err := validateJSON(c.submitSchema, raw); err != nil {
		return nil, fmt.Errorf("%w: malformed submit response: %v", domain.ErrServiceUnavailable, err)
	}
	var sr submitResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("%w: decode submit response: %v", domain.ErrServiceUnavailable, err)
	}
	return &adapter.OCRJobHandle{
		ID:             sr.JobID,
		Status:         normStatus(sr.Status),
		TotalFiles:     sr.TotalFiles,
		ProcessedFiles: sr.ProcessedFiles,
		Message:        sr.Message,
	}, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context, jobID string) (*adapter.OCRJobResult, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrInvalidRequest)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/ocr/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	raw, code, err := c.do(req, "status")
	if err != nil {
		return nil, err
	}
	switch {
	case code == http.StatusNotFound:
		return nil, fmt.Errorf("%w: remote ocr job %s", domain.ErrNotFound, jobID)
	case code >= 500:
		return nil, fmt.Errorf("%w: status returned %d: %s", domain.ErrServiceUnavailable, code, raw)
	case code >= 400:
		return nil, fmt.Errorf("%w: status request rejected (%d): %s", domain.ErrInvalidRequest, code, raw)
	}
	if err := validateJSON(c.statusSchema, raw); err != nil {
		return nil, fmt.Errorf("%w: malformed status response: %v", domain.ErrServiceUnavailable, err)
	}
	var sr statusResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("%w: decode status response: %v", domain.ErrServiceUnavailable, err)
	}
	return sr.toDomain(), nil
}

func (c *HTTPClient) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("%w: job id is required", domain.ErrInvalidRequest)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v1/ocr/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return err
	}
	raw, code, err := c.do(req, "cancel")
	if err != nil {
		return err
	}
	switch {
	case code < 300, code == http.StatusNotFound, code == http.StatusConflict:
		return nil
	case code >= 500:
		return fmt.Errorf("%w: cancel returned %d: %s", domain.ErrServiceUnavailable, code, raw)
	default:
		return fmt.Errorf("%w: cancel rejected (%d): %s", domain.ErrInvalidRequest, code, raw)
	}
}

func (c *HTTPClient) HealthCheck(ctx context.Context) (*adapter.OCRHealth, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	raw, code, err := c.do(req, "health")
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("%w: health returned %d", domain.ErrServiceUnavailable, code)
	}
	var hr healthResponse
	if err := json.Unmarshal(raw, &hr); err != nil {
		return nil, fmt.Errorf("%w: decode health response: %v", domain.ErrServiceUnavailable, err)
	}
	return &adapter.OCRHealth{Status: hr.Status, Service: hr.Service}, nil
}

// do executes req and returns the body (truncated for error statuses).
// Transport failures are reported as ErrServiceUnavailable.
func (c *HTTPClient) do(req *http.Request, op string) ([]byte, int, error) {
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ObserveOCREngineCall(op, time.Since(start), false)
		return nil, 0, fmt.Errorf("%w: %s: %w", domain.ErrServiceUnavailable, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	metrics.ObserveOCREngineCall(op, time.Since(start), err == nil && resp.StatusCode < 500)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: read body: %w", domain.ErrServiceUnavailable, op, err)
	}
	if resp.StatusCode >= 300 && len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	return raw, resp.StatusCode, nil
}

func (sr *statusResponse) toDomain() *adapter.OCRJobResult {
	out := &adapter.OCRJobResult{
		ID:             sr.JobID,
		SettlementID:   sr.SettlementID,
		Status:         normStatus(sr.Status),
		TotalFiles:     sr.TotalFiles,
		ProcessedFiles: sr.ProcessedFiles,
		SuccessFiles:   sr.SuccessFiles,
		FailedFiles:    sr.FailedFiles,
		ErrorMessage:   sr.ErrorMessage,
		CreatedAt:      parseTime(sr.CreatedAt),
		Results:        make([]adapter.OCRFileResult, 0, len(sr.Results)),
	}
	for _, r := range sr.Results {
		fr := adapter.OCRFileResult{
			Filename:         r.Filename,
			Success:          r.Success,
			Confidence:       r.Confidence,
			EngineUsed:       r.EngineUsed,
			ProcessingTimeMs: int64(math.Round(r.ProcessingTime * 1000)),
			Error:            r.Error,
		}
		if r.ExtractedData != nil {
			ex := &adapter.OCRExtractedData{
				Date:           r.ExtractedData.Date,
				MerchantName:   r.ExtractedData.MerchantName,
				BusinessNumber: r.ExtractedData.BusinessNumber,
				TotalAmount:    r.ExtractedData.TotalAmount.v,
				RawText:        r.ExtractedData.RawText,
			}
			for _, it := range r.ExtractedData.Items {
				ex.Items = append(ex.Items, adapter.OCRLineItem{
					Name:       it.Name,
					Quantity:   it.Quantity.v,
					UnitPrice:  it.UnitPrice.v,
					TotalPrice: it.TotalPrice.v,
				})
			}
			fr.Extracted = ex
		}
		out.Results = append(out.Results, fr)
	}
	return out
}

func normStatus(s string) model.OCRJobStatus {
	return model.OCRJobStatus(strings.ToUpper(strings.TrimSpace(s)))
}

// parseTime accepts RFC3339 and the zone-less ISO form the engine emits.
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

