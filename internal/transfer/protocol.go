package transfer

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jaywantadh/ChunkStream/internal/metadata"
	"github.com/jaywantadh/ChunkStream/internal/storage"
)

// Routes served by Server.
const (
	PathDownload  = "/download"
	PathUpload    = "/upload"
	PathFiles     = "/files"
	PathTransfers = "/transfers"
	PathHealth    = "/health"
)

// Response headers set on successful uploads.
const (
	HeaderTransferID = "X-Transfer-Id"
	HeaderDigest     = "X-Content-Digest"
)

// UploadAck is the body sent once an upload has been fully written.
const UploadAck = "DONE"

// MultipartField is the form field carrying files in multipart uploads.
const MultipartField = "file[]"

// TransferStatus represents the current status of a transfer
type TransferStatus string

const (
	StatusPending    TransferStatus = "pending"
	StatusInProgress TransferStatus = "in_progress"
	StatusCompleted  TransferStatus = "completed"
	StatusFailed     TransferStatus = "failed"
	StatusCancelled  TransferStatus = "cancelled"
)

// TransferStatusResponse represents the current status of a transfer
type TransferStatusResponse struct {
	TransferID      string         `json:"transfer_id"`
	Kind            Kind           `json:"kind"`
	Path            string         `json:"path,omitempty"`
	Status          TransferStatus `json:"status"`
	BytesMoved      int64          `json:"bytes_moved"`
	Blocks          int64          `json:"blocks"`
	TotalBytes      int64          `json:"total_bytes,omitempty"`
	ProgressPercent float64        `json:"progress_percent"`
	Speed           int64          `json:"speed"`
	ETA             string         `json:"eta,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
}

// TransfersResponse lists open sessions and recently finished ones.
type TransfersResponse struct {
	Active []TransferStatusResponse  `json:"active"`
	Recent []metadata.TransferRecord `json:"recent"`
}

// TransferLookupResponse answers GET /transfers/{id}: exactly one field is set.
type TransferLookupResponse struct {
	Active   *TransferStatusResponse  `json:"active,omitempty"`
	Finished *metadata.TransferRecord `json:"finished,omitempty"`
}

// FilesResponse lists stored files.
type FilesResponse struct {
	Files []storage.FileInfo `json:"files"`
}

// FileUploadResponse describes one stored file.
type FileUploadResponse struct {
	TransferID string `json:"transfer_id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// MultipartUploadResponse describes every file stored from a multipart body.
type MultipartUploadResponse struct {
	Files []FileUploadResponse `json:"files"`
}

// HealthResponse answers GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	NodeID         string `json:"node_id,omitempty"`
	ActiveSessions int    `json:"active_sessions"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// Response helpers
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
	}
}

func WriteErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string) {
	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: errorMsg,
		Code:    statusCode,
	}
	WriteJSONResponse(w, statusCode, response)
}
