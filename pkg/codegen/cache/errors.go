package cache

// Reason codes reported when a descriptor no longer describes what is on disk
const (
	ReasonArtifactNotFound      = "ARTIFACT_NOT_FOUND"
	ReasonArtifactETagMismatch  = "ARTIFACT_ETAG_MISMATCH"
	ReasonArtifactMtimeOutdated = "ARTIFACT_MTIME_OUTDATED"
	ReasonSourcesEmpty          = "SOURCES_EMPTY"
	ReasonSourceNotFound        = "SOURCE_NOT_FOUND"
	ReasonSourceETagMismatch    = "SOURCE_ETAG_MISMATCH"
	ReasonAssetFileNotFound     = "ASSET_FILE_NOT_FOUND"
	ReasonAssetETagMismatch     = "ASSET_ETAG_MISMATCH"
)
