package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/locator-kn/ms-fileserve/internal/config"
	"github.com/locator-kn/ms-fileserve/internal/domain"
	"github.com/locator-kn/ms-fileserve/internal/plan"
)

const maxFieldBytes = 4096

// FileHandler handles upload, read and delete HTTP requests.
type FileHandler struct {
	ingestor Ingestor
	store    FileStore
	repo     FileRepository
	validate *validator.Validate
	cfg      *config.Config
	log      zerolog.Logger
}

// NewFileHandler creates a new file handler.
func NewFileHandler(ingestor Ingestor, store FileStore, repo FileRepository, cfg *config.Config, log zerolog.Logger) *FileHandler {
	return &FileHandler{
		ingestor: ingestor,
		store:    store,
		repo:     repo,
		validate: validator.New(),
		cfg:      cfg,
		log:      log,
	}
}

// filePart walks the multipart stream collecting plain fields until
// the file part appears. The file part must come after the metadata
// fields; it is returned unread so its bytes can be streamed.
func filePart(r *http.Request) (*multipart.Part, map[string][]string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, nil, err
	}

	fields := make(map[string][]string)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, fields, domain.ErrFileRequired
		}
		if err != nil {
			return nil, fields, err
		}
		if part.FormName() == "file" {
			return part, fields, nil
		}
		val, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
		part.Close()
		if err != nil {
			return nil, fields, err
		}
		fields[part.FormName()] = append(fields[part.FormName()], string(val))
	}
}

// StreamUpload handles POST /stream/{class}: a generic single-variant
// upload of an image, video or audio file.
func (h *FileHandler) StreamUpload(w http.ResponseWriter, r *http.Request) {
	class := domain.ContentClass(chi.URLParam(r, "class"))
	if !class.Valid() {
		h.errorResponse(w, http.StatusNotFound, "unknown content class")
		return
	}

	limit := h.cfg.MaxUploadSize
	if class == domain.ClassImage {
		limit = h.cfg.MaxImageStreamSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	part, _, err := filePart(r)
	if err != nil {
		h.ingestErrorResponse(w, err)
		return
	}
	defer part.Close()

	res, err := h.ingestor.Ingest(r.Context(), &domain.UploadRequest{
		Class:            class,
		Context:          domain.ContextGeneric,
		DeclaredType:     part.Header.Get("Content-Type"),
		OriginalFilename: part.FileName(),
		Source:           part,
	})
	if err != nil {
		h.ingestErrorResponse(w, err)
		return
	}

	h.recordVariants(r, res, part.Header.Get("Content-Type"))
	h.jsonResponse(w, http.StatusOK, map[string]string{
		"id":   res.PrimaryID,
		"name": res.StoredFilename,
	})
}

// LocationMeta is the metadata submitted with a location photo.
type LocationMeta struct {
	Title      string   `json:"title" validate:"required,min=3,max=50"`
	Long       float64  `json:"long"`
	Lat        float64  `json:"lat"`
	Categories []string `json:"categories" validate:"required,min=1,max=2,dive,oneof=nature culture secret gastro nightlife holiday"`
}

// LocationUpload handles POST /image/location: a four-variant photo
// upload with location metadata.
func (h *FileHandler) LocationUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize)

	part, fields, err := filePart(r)
	if err != nil {
		h.ingestErrorResponse(w, err)
		return
	}
	defer part.Close()

	meta, err := parseLocationMeta(fields)
	if err == nil {
		err = h.validate.Struct(meta)
	}
	if err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid location metadata: "+err.Error())
		return
	}

	res, err := h.ingestor.Ingest(r.Context(), &domain.UploadRequest{
		Class:            domain.ClassImage,
		Context:          domain.ContextLocationPhoto,
		DeclaredType:     part.Header.Get("Content-Type"),
		OriginalFilename: part.FileName(),
		Source:           part,
	})
	if err != nil {
		h.ingestErrorResponse(w, err)
		return
	}

	h.recordVariants(r, res, "image/jpeg")
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"images": map[string]string{
			plan.LabelXLarge: res.VariantIDs[plan.LabelXLarge],
			plan.LabelLarge:  res.VariantIDs[plan.LabelLarge],
			plan.LabelNormal: res.VariantIDs[plan.LabelNormal],
			plan.LabelSmall:  res.VariantIDs[plan.LabelSmall],
			"name":           res.StoredFilename,
		},
		"location": meta,
	})
}

func parseLocationMeta(fields map[string][]string) (*LocationMeta, error) {
	meta := &LocationMeta{}
	if v, ok := fields["title"]; ok && len(v) > 0 {
		meta.Title = v[0]
	}
	meta.Categories = fields["categories"]

	long, ok := fields["long"]
	if !ok || len(long) == 0 {
		return nil, errors.New("long is required")
	}
	lat, ok := fields["lat"]
	if !ok || len(lat) == 0 {
		return nil, errors.New("lat is required")
	}

	var err error
	if meta.Long, err = strconv.ParseFloat(long[0], 64); err != nil {
		return nil, errors.New("long must be a number")
	}
	if meta.Lat, err = strconv.ParseFloat(lat[0], 64); err != nil {
		return nil, errors.New("lat must be a number")
	}
	return meta, nil
}

// AvatarUpload handles POST /image/user: thumb + normal avatar
// variants.
func (h *FileHandler) AvatarUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize)

	part, _, err := filePart(r)
	if err != nil {
		h.ingestErrorResponse(w, err)
		return
	}
	defer part.Close()

	res, err := h.ingestor.Ingest(r.Context(), &domain.UploadRequest{
		Class:            domain.ClassImage,
		Context:          domain.ContextUserAvatar,
		DeclaredType:     part.Header.Get("Content-Type"),
		OriginalFilename: part.FileName(),
		Source:           part,
	})
	if err != nil {
		h.ingestErrorResponse(w, err)
		return
	}

	h.recordVariants(r, res, "image/jpeg")
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"name": res.StoredFilename,
		"images": map[string]string{
			"small":          res.VariantIDs[plan.LabelThumb],
			plan.LabelNormal: res.VariantIDs[plan.LabelNormal],
		},
	})
}

// recordVariants persists one metadata row per allocated id. The
// primary is durable at this point; secondaries are recorded as
// writing and reconciled by the variant observer or the cleaner.
// Record failures never fail an upload whose primary committed.
func (h *FileHandler) recordVariants(r *http.Request, res *domain.IngestResult, mediaType string) {
	now := time.Now()
	for label, id := range res.VariantIDs {
		state := domain.VariantWriting
		if id == res.PrimaryID {
			state = domain.VariantCommitted
		}
		rec := &domain.FileRecord{
			StorageID: id,
			Label:     label,
			Filename:  res.StoredFilename,
			MediaType: mediaType,
			State:     state,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := h.repo.Create(r.Context(), rec); err != nil {
			h.log.Error().Err(err).Str("storage_id", id).Msg("failed to create file record")
		}
	}
}

func (h *FileHandler) ingestErrorResponse(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrFileRequired):
		h.errorResponse(w, http.StatusBadRequest, "file required")
		return
	case errors.Is(err, domain.ErrUnsupportedMediaType):
		h.errorResponse(w, http.StatusUnsupportedMediaType, "media type not allowed")
		return
	}

	var ierr *domain.IngestError
	if errors.As(err, &ierr) {
		switch ierr.Kind {
		case domain.KindValidation:
			h.errorResponse(w, http.StatusBadRequest, err.Error())
		case domain.KindTransform:
			h.errorResponse(w, http.StatusBadRequest, "could not process file")
		case domain.KindSource:
			h.errorResponse(w, http.StatusBadRequest, "upload stream interrupted")
		case domain.KindTimeout:
			h.errorResponse(w, http.StatusGatewayTimeout, "upload timed out")
		default:
			h.log.Error().Err(err).Msg("ingestion failed")
			h.errorResponse(w, http.StatusInternalServerError, "failed to store file")
		}
		return
	}

	h.log.Error().Err(err).Msg("upload failed")
	h.errorResponse(w, http.StatusBadRequest, "invalid upload")
}

func (h *FileHandler) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *FileHandler) errorResponse(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, map[string]string{"error": message})
}
