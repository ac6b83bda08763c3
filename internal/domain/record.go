package domain

import "time"

// FileRecord is the metadata row kept per stored object. StorageID is
// the blob store key; records whose variant never committed are
// reconciled by the cleanup worker.
type FileRecord struct {
	StorageID string       `json:"id"`
	Label     string       `json:"label"`
	Filename  string       `json:"filename"`
	MediaType string       `json:"media_type"`
	ByteSize  int64        `json:"byte_size,omitempty"`
	State     VariantState `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
