package snapshot

import "strconv"

// ChangeNotice is published when a run rewrites the snapshot file.
type ChangeNotice struct {
	RunID       string `json:"run_id"`
	PlaceID     int64  `json:"place_id"`
	FetchedAt   int64  `json:"fetched_at"`
	ServerCount int    `json:"server_count"`
	Digest      string `json:"digest"`
	Path        string `json:"path"`
}

// NewChangeNotice describes a written snapshot.
func NewChangeNotice(runID string, placeID, fetchedAt int64, res SaveResult) ChangeNotice {
	return ChangeNotice{
		RunID:       runID,
		PlaceID:     placeID,
		FetchedAt:   fetchedAt,
		ServerCount: res.Servers,
		Digest:      res.Digest,
		Path:        res.Path,
	}
}

// Attributes are attached to the published message for subscriber filtering.
func (n ChangeNotice) Attributes() map[string]string {
	return map[string]string{
		"run_id":   n.RunID,
		"place_id": strconv.FormatInt(n.PlaceID, 10),
		"digest":   n.Digest,
	}
}
