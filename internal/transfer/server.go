package transfer

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/ChunkStream/internal/block"
	"github.com/jaywantadh/ChunkStream/internal/compressor"
	"github.com/jaywantadh/ChunkStream/internal/metadata"
	"github.com/jaywantadh/ChunkStream/internal/storage"
	"github.com/jaywantadh/ChunkStream/internal/streaming"
	"github.com/jaywantadh/ChunkStream/pkg/logging"
)

const (
	uploadPattern     = "upload-*.bin"
	fileUploadPattern = ".upload-*"
	recentTransfers   = 50
)

// Config holds the settings the transfer endpoints need.
type Config struct {
	NodeID         string
	UploadDir      string
	QueueDepth     int
	MaxUploadBytes int64
}

// Server serves the streaming, files and transfer endpoints.
type Server struct {
	cfg      Config
	pool     *block.Pool
	source   *streaming.Source
	store    storage.Storage
	registry *Registry
	ledger   *metadata.MetadataStore
	log      *logrus.Entry
}

// NewServer creates a transfer server. source serves GET /download and may be
// nil, in which case the endpoint answers 404. ledger may be nil.
func NewServer(cfg Config, pool *block.Pool, source *streaming.Source, store storage.Storage, registry *Registry, ledger *metadata.MetadataStore) *Server {
	return &Server{
		cfg:      cfg,
		pool:     pool,
		source:   source,
		store:    store,
		registry: registry,
		ledger:   ledger,
		log:      logging.Component("transfer"),
	}
}

// Register adds the server's routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+PathDownload, s.handleDownload)
	mux.HandleFunc("POST "+PathUpload, s.handleUpload)
	mux.HandleFunc("GET "+PathFiles, s.handleListFiles)
	mux.HandleFunc("POST "+PathFiles, s.handleMultipartUpload)
	mux.HandleFunc("GET "+PathFiles+"/{name}", s.handleFileDownload)
	mux.HandleFunc("POST "+PathFiles+"/{name}", s.handleFileUpload)
	mux.HandleFunc("GET "+PathTransfers, s.handleListTransfers)
	mux.HandleFunc("GET "+PathTransfers+"/{id}", s.handleGetTransfer)
	mux.HandleFunc("GET "+PathHealth, s.handleHealth)
}

// Handler returns a mux serving only this server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

func (s *Server) options(session *Session) streaming.Options {
	return streaming.Options{
		Depth:    s.cfg.QueueDepth,
		Progress: session.Observe,
	}
}

func (s *Server) open(w http.ResponseWriter, r *http.Request, kind Kind, path string, total int64) (*Session, bool) {
	session, err := s.registry.Open(kind, path, r.RemoteAddr, total)
	if err != nil {
		s.log.WithError(err).WithField("kind", kind).Warn("transfer rejected")
		WriteErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return nil, false
	}
	return session, true
}

// handleDownload handles GET /download
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		WriteErrorResponse(w, http.StatusNotFound, "no download file configured")
		return
	}

	filter, err := streaming.FilterByName(r.URL.Query().Get("filter"), s.pool)
	if err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	size, err := s.source.Stat()
	if err != nil {
		s.log.WithError(err).Error("download file unavailable")
		WriteErrorResponse(w, http.StatusInternalServerError, "download file unavailable")
		return
	}

	session, ok := s.open(w, r, KindDownload, s.source.Path(), size)
	if !ok {
		return
	}

	opts := s.options(session)
	if filter != nil {
		opts.Filters = []streaming.Filter{filter}
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(HeaderTransferID, session.ID)
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		s.registry.Close(session, "", nil)
		return
	}

	s.stream(w, r, session, s.source, opts, false)
}

// handleUpload handles POST /upload
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	session, ok := s.open(w, r, KindUpload, "", max(r.ContentLength, 0))
	if !ok {
		return
	}
	log := s.log.WithField("transfer_id", session.ID)

	sink := streaming.NewSink(s.cfg.UploadDir, uploadPattern, streaming.WithSinkLogger(log))
	res, err := streaming.Upload(r.Context(), s.body(w, r), s.pool, sink, s.options(session))
	if err != nil {
		s.registry.Close(session, "", err)
		WriteErrorResponse(w, uploadStatus(err), err.Error())
		return
	}
	session.SetPath(res.Path)
	s.registry.Close(session, res.Digest, nil)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set(HeaderTransferID, session.ID)
	w.Header().Set(HeaderDigest, res.Digest)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, UploadAck)
}

// handleListFiles handles GET /files
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.store.List()
	if err != nil {
		s.log.WithError(err).Error("failed to list files")
		WriteErrorResponse(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	WriteJSONResponse(w, http.StatusOK, FilesResponse{Files: files})
}

// handleFileDownload handles GET /files/{name}
func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	info, err := s.store.Stat(name)
	if err != nil {
		WriteErrorResponse(w, storageStatus(err), err.Error())
		return
	}
	path, err := s.store.Resolve(name)
	if err != nil {
		WriteErrorResponse(w, storageStatus(err), err.Error())
		return
	}

	src, err := streaming.NewSource(path, s.pool, streaming.WithSourceLogger(s.log.WithField("file", name)))
	if err != nil {
		WriteErrorResponse(w, http.StatusNotFound, err.Error())
		return
	}

	session, ok := s.open(w, r, KindFileDownload, path, info.Size)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set(HeaderTransferID, session.ID)

	compress := compressor.Accepts(r.Header.Get("Accept-Encoding")) && !compressor.ShouldSkipCompression(name)
	if compress {
		w.Header().Set("Content-Encoding", compressor.Encoding)
		w.Header().Add("Vary", "Accept-Encoding")
	}
	if r.Method == http.MethodHead {
		if !compress {
			w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
		}
		s.registry.Close(session, "", nil)
		return
	}

	s.stream(w, r, session, src, s.options(session), compress)
}

// handleFileUpload handles POST /files/{name}
func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	stored, err := s.storeFile(r.Context(), r, name, s.body(w, r), r.ContentLength)
	if err != nil {
		WriteErrorResponse(w, fileUploadStatus(err), err.Error())
		return
	}
	WriteJSONResponse(w, http.StatusCreated, stored)
}

// handleMultipartUpload handles POST /files with a multipart/form-data body
func (s *Server) handleMultipartUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = s.body(w, r)
	reader, err := r.MultipartReader()
	if err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := MultipartUploadResponse{Files: []FileUploadResponse{}}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			WriteErrorResponse(w, uploadStatus(err), errors.Wrap(err, "failed to read multipart body").Error())
			return
		}
		if part.FormName() != MultipartField || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		stored, err := s.storeFile(r.Context(), r, part.FileName(), part, 0)
		_ = part.Close()
		if err != nil {
			WriteErrorResponse(w, fileUploadStatus(err), err.Error())
			return
		}
		resp.Files = append(resp.Files, *stored)
	}

	if len(resp.Files) == 0 {
		WriteErrorResponse(w, http.StatusBadRequest, "no "+MultipartField+" parts in request")
		return
	}
	WriteJSONResponse(w, http.StatusCreated, resp)
}

// handleListTransfers handles GET /transfers
func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	resp := TransfersResponse{
		Active: s.registry.Active(),
		Recent: []metadata.TransferRecord{},
	}
	if s.ledger != nil {
		recent, err := s.ledger.ListTransfers(recentTransfers)
		if err != nil {
			s.log.WithError(err).Error("failed to list transfers")
			WriteErrorResponse(w, http.StatusInternalServerError, "failed to list transfers")
			return
		}
		resp.Recent = recent
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

// handleGetTransfer handles GET /transfers/{id}
func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if session, ok := s.registry.Get(id); ok {
		snapshot := session.Snapshot(time.Now())
		WriteJSONResponse(w, http.StatusOK, TransferLookupResponse{Active: &snapshot})
		return
	}

	if s.ledger != nil {
		record, err := s.ledger.GetTransfer(id)
		if err == nil {
			WriteJSONResponse(w, http.StatusOK, TransferLookupResponse{Finished: &record})
			return
		}
		if !errors.Is(err, metadata.ErrRecordNotFound) {
			s.log.WithError(err).WithField("transfer_id", id).Error("failed to read transfer")
			WriteErrorResponse(w, http.StatusInternalServerError, "failed to read transfer")
			return
		}
	}
	WriteErrorResponse(w, http.StatusNotFound, "Transfer not found")
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSONResponse(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		NodeID:         s.cfg.NodeID,
		ActiveSessions: s.registry.Len(),
	})
}

// storeFile streams body into the storage directory under name.
func (s *Server) storeFile(ctx context.Context, r *http.Request, name string, body io.Reader, total int64) (*FileUploadResponse, error) {
	final, err := s.store.Resolve(name)
	if err != nil {
		return nil, err
	}

	session, err := s.registry.Open(KindFileUpload, final, r.RemoteAddr, max(total, 0))
	if err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{"transfer_id": session.ID, "file": name})
	sink := streaming.NewSink(s.store.Dir(), fileUploadPattern,
		streaming.WithCommit(final),
		streaming.WithSinkLogger(log))

	res, err := streaming.Upload(ctx, body, s.pool, sink, s.options(session))
	s.registry.Close(session, digestOf(res), err)
	if err != nil {
		return nil, err
	}

	log.WithField("bytes", res.Bytes).Info("file stored")
	return &FileUploadResponse{
		TransferID: session.ID,
		Name:       name,
		Size:       res.Bytes,
		Digest:     res.Digest,
	}, nil
}

// stream copies src to the response. Content-Length, unless compressing, is
// the size of the file as opened for this request. Before the first byte is
// written a failure becomes a JSON error; afterwards the response is aborted
// so the client sees a truncated body.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, session *Session, src *streaming.Source, opts streaming.Options, compress bool) {
	log := s.log.WithField("transfer_id", session.ID)
	tw := &trackingWriter{ResponseWriter: w}

	opts.Opened = func(size int64) {
		session.SetTotal(size)
		if !compress {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		}
	}

	var (
		out io.Writer = tw
		zw  io.WriteCloser
	)
	if compress {
		zw = compressor.NewWriter(tw)
		out = zw
	}

	_, err := streaming.Download(r.Context(), src, out, opts)
	if err == nil && zw != nil {
		err = errors.Wrap(zw.Close(), "failed to finish compressed stream")
	}
	s.registry.Close(session, "", err)
	if err == nil {
		return
	}

	if !tw.wrote {
		w.Header().Del("Content-Length")
		w.Header().Del("Content-Encoding")
		WriteErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.WithError(err).Warn("aborting response")
	panic(http.ErrAbortHandler)
}

func (s *Server) body(w http.ResponseWriter, r *http.Request) io.ReadCloser {
	if s.cfg.MaxUploadBytes > 0 {
		return http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}
	return r.Body
}

func digestOf(res *streaming.Result) string {
	if res == nil {
		return ""
	}
	return res.Digest
}

// trackingWriter records whether the response has been committed.
type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(p)
}

func (t *trackingWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		t.wrote = true
		f.Flush()
	}
}

func uploadStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func storageStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidName), errors.Is(err, storage.ErrNotRegular):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fileUploadStatus(err error) int {
	switch {
	case errors.Is(err, ErrTooManySessions):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrInvalidName):
		return http.StatusBadRequest
	default:
		return uploadStatus(err)
	}
}
