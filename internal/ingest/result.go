package ingest

import "github.com/locator-kn/ms-fileserve/internal/domain"

// assemble builds the ingestion response from the coordinator's
// pipelines once the primary committed. Every id was allocated at
// sink-open time, so secondaries still in flight are included; their
// durability is reported asynchronously. Pure, no I/O.
func assemble(pipelines []*pipeline, storedFilename string) *domain.IngestResult {
	result := &domain.IngestResult{
		PrimaryID:      pipelines[0].handle.StorageID,
		VariantIDs:     make(map[string]string, len(pipelines)),
		StoredFilename: storedFilename,
	}
	for _, p := range pipelines {
		result.VariantIDs[p.spec.Label] = p.handle.StorageID
	}
	return result
}
