package models

// ManifestEntry records one file physically present under a dataset root.
type ManifestEntry struct {
	Path   string `json:"path"` // dataset-relative, slash-separated
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}
