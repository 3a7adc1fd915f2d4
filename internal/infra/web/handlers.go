package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"receipt-ocr/internal/domain"
	"receipt-ocr/internal/domain/model"
	"receipt-ocr/internal/domain/ports/adapter"
	"receipt-ocr/internal/infra/logging"
)

type createJobsRequest struct {
	ReceiptIDs   []string `json:"receiptIds"`
	SettlementID string   `json:"settlementId,omitempty"`
}

type createJobRequest struct {
	SettlementID string `json:"settlementId,omitempty"`
}

type enqueueRequest struct {
	ReceiptID string `json:"receiptId"`
	Priority  int    `json:"priority"`
}

type errorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"traceId,omitempty"`
}

type jobResponse struct {
	ID             string     `json:"id"`
	RemoteJobID    string     `json:"remoteJobId,omitempty"`
	SettlementID   string     `json:"settlementId,omitempty"`
	ReceiptIDs     []string   `json:"receiptIds"`
	Status         string     `json:"status"`
	TotalFiles     int        `json:"totalFiles"`
	ProcessedFiles int        `json:"processedFiles"`
	SuccessFiles   int        `json:"successFiles"`
	FailedFiles    int        `json:"failedFiles"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	Error          string     `json:"error,omitempty"`
}

func toJobResponse(j *model.OCRJob) jobResponse {
	return jobResponse{
		ID:             j.ID,
		RemoteJobID:    j.RemoteID,
		SettlementID:   j.SettlementID,
		ReceiptIDs:     j.ReceiptIDs,
		Status:         string(j.Status),
		TotalFiles:     j.TotalFiles,
		ProcessedFiles: j.ProcessedFiles,
		SuccessFiles:   j.SuccessFiles,
		FailedFiles:    j.FailedFiles,
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		Error:          j.Error,
	}
}

type statsResponse struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Processing  int `json:"processing"`
	Completed   int `json:"completed"`
	Partial     int `json:"partial"`
	Failed      int `json:"failed"`
	SuccessRate int `json:"successRate"`
}

type queueItemResponse struct {
	ID          string     `json:"id"`
	ReceiptID   string     `json:"receiptId"`
	Priority    int        `json:"priority"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"maxAttempts"`
	Status      string     `json:"status"`
	EnqueuedAt  time.Time  `json:"enqueuedAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	JobID       string     `json:"jobId,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func toQueueItemResponse(it *model.QueueItem) queueItemResponse {
	return queueItemResponse{
		ID:          it.ID,
		ReceiptID:   it.ReceiptID,
		Priority:    it.Priority,
		Attempts:    it.Attempts,
		MaxAttempts: it.MaxAttempts,
		Status:      string(it.Status),
		EnqueuedAt:  it.EnqueuedAt,
		ProcessedAt: it.ProcessedAt,
		JobID:       it.JobID,
		Error:       it.Error,
	}
}

type queueStatsResponse struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

type resultResponse struct {
	ReceiptID            string    `json:"receiptId"`
	JobID                string    `json:"jobId"`
	EngineUsed           string    `json:"engineUsed"`
	RawText              string    `json:"rawText"`
	MerchantName         string    `json:"merchantName,omitempty"`
	BusinessNumber       string    `json:"businessNumber,omitempty"`
	ReceiptDate          string    `json:"receiptDate,omitempty"`
	TotalAmount          *float64  `json:"totalAmount,omitempty"`
	Confidence           float64   `json:"confidence"`
	ProcessingTimeMs     int64     `json:"processingTimeMs"`
	RequiresManualReview bool      `json:"requiresManualReview"`
	ErrorMessage         string    `json:"errorMessage,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func (s *Server) createBatchJob(w http.ResponseWriter, r *http.Request) {
	var req createJobsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	job, err := s.ocrUC.CreateBatchJob(r.Context(), req.ReceiptIDs, model.WithSettlement(req.SettlementID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}
	job, err := s.ocrUC.CreateJob(r.Context(), chi.URLParam(r, "receiptID"), model.WithSettlement(req.SettlementID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.ocrUC.GetJobStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.ocrUC.CancelJob(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) jobsForReceipt(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.ocrUC.GetJobsForReceipt(r.Context(), chi.URLParam(r, "receiptID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, struct {
		Items []jobResponse `json:"items"`
	}{Items: out})
}

func (s *Server) latestResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.ocrUC.LatestResult(r.Context(), chi.URLParam(r, "receiptID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{
		ReceiptID:            res.ReceiptID,
		JobID:                res.JobID,
		EngineUsed:           res.EngineUsed,
		RawText:              res.RawText,
		MerchantName:         res.MerchantName,
		BusinessNumber:       res.BusinessNumber,
		ReceiptDate:          res.ReceiptDate,
		TotalAmount:          res.TotalAmount,
		Confidence:           res.Confidence,
		ProcessingTimeMs:     res.ProcessingTimeMs,
		RequiresManualReview: res.RequiresManualReview,
		ErrorMessage:         res.ErrorMessage,
		CreatedAt:            res.CreatedAt,
	})
}

func (s *Server) jobStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.ocrUC.GetStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse(st))
}

func (s *Server) engineHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.ocrUC.EngineHealth(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHealthResponse(h))
}

func toHealthResponse(h *adapter.OCRHealth) healthResponse {
	return healthResponse{Status: h.Status, Service: h.Service}
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	it, err := s.queue.Enqueue(r.Context(), req.ReceiptID, req.Priority)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toQueueItemResponse(it))
}

func (s *Server) getQueueItem(w http.ResponseWriter, r *http.Request) {
	it, err := s.queue.Get(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueItemResponse(it))
}

func (s *Server) queueItemForReceipt(w http.ResponseWriter, r *http.Request) {
	it, err := s.queue.FindByReceipt(r.Context(), chi.URLParam(r, "receiptID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueItemResponse(it))
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, queueStatsResponse(s.queue.Stats(r.Context())))
}

// writeError maps domain sentinels to status codes. Unexpected errors are
// logged and hidden behind a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", TraceID: logging.TraceID(r.Context())})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
