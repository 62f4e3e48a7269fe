package orchestrator

import "time"

// SourceAsset is an accepted upload waiting to be packaged.
type SourceAsset struct {
	ID          string
	StoragePath string
	CreatedAt   time.Time
}

// JobStatus is the lifecycle state of a TranscodeJob.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// canTransition encodes Pending -> Running -> {Succeeded, Failed}.
// Pending may also fail directly when setup errors before any encode starts.
func (s JobStatus) canTransition(next JobStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusSucceeded || next == StatusFailed
	default:
		return false
	}
}

// TranscodeJob tracks one orchestration run for an asset.
type TranscodeJob struct {
	AssetID    string            `json:"assetId"`
	Renditions Ladder            `json:"renditions"`
	Status     JobStatus         `json:"status"`
	Outputs    map[string]string `json:"outputs,omitempty"` // rendition name -> variant directory
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

func (j TranscodeJob) clone() TranscodeJob {
	out := j
	out.Renditions = append(Ladder(nil), j.Renditions...)
	if j.Outputs != nil {
		out.Outputs = make(map[string]string, len(j.Outputs))
		for k, v := range j.Outputs {
			out.Outputs[k] = v
		}
	}
	return out
}

// VariantPlaylist describes one encoded rendition as written by the encoder.
type VariantPlaylist struct {
	RenditionName          string
	SegmentFilenames       []string
	SegmentDurationSeconds float64
}

// StreamableAsset is a published package on disk.
type StreamableAsset struct {
	ID         string
	Dir        string
	MasterPath string
	Variants   []VariantPlaylist
}
