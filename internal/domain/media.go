package domain

import (
	"io"
	"regexp"
)

// ContentClass is the coarse media category of an upload. It governs
// the allowed media types and the variant plan.
type ContentClass string

const (
	ClassImage ContentClass = "image"
	ClassVideo ContentClass = "video"
	ClassAudio ContentClass = "audio"
)

// Valid reports whether the class is one of the known categories.
func (c ContentClass) Valid() bool {
	return c == ClassImage || c == ClassVideo || c == ClassAudio
}

// UploadContext indicates what the upload is for.
type UploadContext string

const (
	ContextGeneric       UploadContext = "generic"
	ContextLocationPhoto UploadContext = "location_photo"
	ContextUserAvatar    UploadContext = "user_avatar"
)

// AllowedMediaTypes maps each content class to the pattern a declared
// media type must match. Matching is done on the lower-cased value.
var AllowedMediaTypes = map[ContentClass]*regexp.Regexp{
	ClassImage: regexp.MustCompile(`^image/(?:jpg|png|jpeg)$`),
	ClassVideo: regexp.MustCompile(`^video/(?:mp4|3gpp|mpeg|mov|quicktime)$`),
	ClassAudio: regexp.MustCompile(`^audio/mp3$`),
}

// UploadRequest is a validated upload handed to the ingestion core.
// The source stream is single-pass; the core reads it exactly once.
type UploadRequest struct {
	Class            ContentClass
	Context          UploadContext
	DeclaredType     string
	OriginalFilename string
	Source           io.Reader
}

// TransformParams describes the derivation applied to a variant.
type TransformParams struct {
	TargetWidth int
	Reorient    bool
	Interlace   bool
}

// VariantSpec is one planned representation of an upload. Transform is
// nil for pass-through variants that store the original bytes.
type VariantSpec struct {
	Label     string
	Transform *TransformParams
	Primary   bool
}

// VariantState is the lifecycle state of a variant pipeline.
// Transitions are monotonic; Committed and Failed are terminal.
type VariantState string

const (
	VariantPending   VariantState = "PENDING"
	VariantWriting   VariantState = "WRITING"
	VariantCommitted VariantState = "COMMITTED"
	VariantFailed    VariantState = "FAILED"
)

// IsTerminal reports whether the state can no longer change.
func (s VariantState) IsTerminal() bool {
	return s == VariantCommitted || s == VariantFailed
}

// VariantHandle tracks one variant from sink open to its terminal
// state. StorageID is assigned at open time and never changes.
type VariantHandle struct {
	Label     string
	StorageID string
	State     VariantState
	Err       error
}

// IngestResult is produced only when the primary variant committed.
// VariantIDs lists every id allocated for the ingestion, keyed by
// label; secondary ids may still be in flight when it is built.
type IngestResult struct {
	PrimaryID      string
	VariantIDs     map[string]string
	StoredFilename string
}
