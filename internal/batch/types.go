package batch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BackgroundKind selects how a segment's background reference is handed to
// the avatar provider.
type BackgroundKind string

const (
	BackgroundNone     BackgroundKind = "none"
	BackgroundUploaded BackgroundKind = "uploaded"
	BackgroundStockURL BackgroundKind = "stockUrl"
)

// ResolutionStatus records how a segment left the resolution stage.
type ResolutionStatus string

const (
	StatusPending  ResolutionStatus = ""
	StatusResolved ResolutionStatus = "resolved"
	StatusDegraded ResolutionStatus = "degraded"
	StatusSkipped  ResolutionStatus = "skipped"
)

// Segment is one sub-unit of a batch. HasAvatar alone decides the
// resolution path: avatar render when true, transcription of SourceURL when false.
type Segment struct {
	Title          string         `json:"title"`
	Script         string         `json:"script"`
	HasAvatar      bool           `json:"hasAvatar"`
	BackgroundKind BackgroundKind `json:"backgroundKind"`
	BackgroundRef  string         `json:"backgroundRef"`
	SourceURL      string         `json:"sourceUrl,omitempty"`

	ResolvedURL            string           `json:"resolvedUrl,omitempty"`
	ResolvedScript         string           `json:"resolvedScript,omitempty"`
	ResolvedScriptLanguage string           `json:"resolvedScriptLanguage,omitempty"`
	ResolutionStatus       ResolutionStatus `json:"resolutionStatus,omitempty"`
}

// segmentWire also accepts the field names used by the news/course editor.
type segmentWire struct {
	Title          string         `json:"title"`
	Script         string         `json:"script"`
	HasAvatar      *bool          `json:"hasAvatar"`
	Avatar         *bool          `json:"avatar"`
	BackgroundKind BackgroundKind `json:"backgroundKind"`
	BackgroundRef  string         `json:"backgroundRef"`
	Background     bool           `json:"background"`
	BgType         string         `json:"bgType"`
	BgURL          string         `json:"bgUrl"`
	SourceURL      string         `json:"sourceUrl"`
	VideoURL       string         `json:"videoUrl"`

	ResolvedURL            string           `json:"resolvedUrl"`
	ResolvedScript         string           `json:"resolvedScript"`
	ResolvedScriptLanguage string           `json:"resolvedScriptLanguage"`
	ResolutionStatus       ResolutionStatus `json:"resolutionStatus"`
}

func (s *Segment) UnmarshalJSON(data []byte) error {
	var w segmentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*s = Segment{
		Title:                  w.Title,
		Script:                 w.Script,
		BackgroundKind:         w.BackgroundKind,
		BackgroundRef:          w.BackgroundRef,
		SourceURL:              w.SourceURL,
		ResolvedURL:            w.ResolvedURL,
		ResolvedScript:         w.ResolvedScript,
		ResolvedScriptLanguage: w.ResolvedScriptLanguage,
		ResolutionStatus:       w.ResolutionStatus,
	}
	switch {
	case w.HasAvatar != nil:
		s.HasAvatar = *w.HasAvatar
	case w.Avatar != nil:
		s.HasAvatar = *w.Avatar
	}
	if s.SourceURL == "" {
		s.SourceURL = w.VideoURL
	}
	if s.BackgroundKind == "" {
		s.BackgroundKind, s.BackgroundRef = legacyBackground(w)
	}
	return nil
}

func legacyBackground(w segmentWire) (BackgroundKind, string) {
	if !w.Background || w.BgURL == "" {
		return BackgroundNone, ""
	}
	if w.BgType == "upload" {
		return BackgroundUploaded, w.BgURL
	}
	return BackgroundStockURL, w.BgURL
}

// Batch is an ordered collection of segments merged into one output video.
// Segment order is the concatenation order.
type Batch struct {
	BatchID   string    `json:"batchId"`
	OwnerID   string    `json:"ownerId"`
	ReplicaID string    `json:"replicaId"`
	Videos    []Segment `json:"videos"`
}

func (b Batch) Validate() error {
	if strings.TrimSpace(b.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if len(b.Videos) == 0 {
		return fmt.Errorf("batch %s has no segments", b.BatchID)
	}
	for i, seg := range b.Videos {
		if seg.HasAvatar {
			if strings.TrimSpace(b.ReplicaID) == "" {
				return fmt.Errorf("segment %d needs an avatar but replicaId is empty", i)
			}
			continue
		}
		if strings.TrimSpace(seg.SourceURL) == "" {
			return fmt.Errorf("segment %d has no avatar and no sourceUrl", i)
		}
	}
	return nil
}

// Document is the batch exactly as received. Fields this service does not
// understand are carried through to the metadata sink untouched.
type Document map[string]json.RawMessage

// Batch decodes the typed view of the document.
func (d Document) Batch() (Batch, error) {
	var b Batch

	b.BatchID = d.firstString("batchId", "_id", "courseId", "newsId")
	b.OwnerID = d.firstString("ownerId", "userId")
	b.ReplicaID = d.firstString("replicaId")
	if b.ReplicaID == "" {
		if raw, ok := d["selectedReplica"]; ok {
			var replica struct {
				ReplicaID string `json:"replica_id"`
			}
			if err := json.Unmarshal(raw, &replica); err == nil {
				b.ReplicaID = replica.ReplicaID
			}
		}
	}

	if raw, ok := d["videos"]; ok {
		if err := json.Unmarshal(raw, &b.Videos); err != nil {
			return Batch{}, fmt.Errorf("decode videos: %w", err)
		}
	}
	return b, nil
}

// With returns a copy of the document with key set to the JSON encoding of v.
func (d Document) With(key string, v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	ret := make(Document, len(d)+1)
	for k, val := range d {
		ret[k] = val
	}
	ret[key] = raw
	return ret, nil
}

func (d Document) firstString(keys ...string) string {
	for _, key := range keys {
		raw, ok := d[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}
