package domain

import "time"

// MasterIndex is the durable per-run ledger. It is created once at run start
// if absent and mutated after each batch so the run stays independently
// resumable even if the RunState snapshot is lost.
type MasterIndex struct {
	Metadata        IndexMetadata          `json:"metadata"`
	Files           map[Partition][]string `json:"files"`
	ProcessingState ProcessingState        `json:"processing_state"`
}

// IndexMetadata records capture time, per-partition totals and batch size.
type IndexMetadata struct {
	CapturedAt time.Time         `json:"captured_at"`
	Totals     map[Partition]int `json:"totals"`
	BatchSize  int               `json:"batch_size"`
}

// ProcessingState mirrors the orchestrator's current position.
type ProcessingState struct {
	CurrentList      Partition `json:"current_list"`
	CurrentBatch     int       `json:"current_batch"`
	CompletedBatches []int     `json:"completed_batches"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewMasterIndex creates an empty ledger with zeroed per-partition counts.
func NewMasterIndex(batchSize int) *MasterIndex {
	files := make(map[Partition][]string)
	totals := make(map[Partition]int)
	for _, p := range PartitionOrder {
		files[p] = nil
		totals[p] = 0
	}
	return &MasterIndex{
		Metadata: IndexMetadata{
			CapturedAt: time.Now(),
			Totals:     totals,
			BatchSize:  batchSize,
		},
		Files: files,
	}
}

// BatchFile is an immutable, persisted slice of a partition's item list.
type BatchFile struct {
	Partition  Partition `json:"partition"`
	Number     int       `json:"number"`
	Items      []string  `json:"items"`
	CapturedAt time.Time `json:"captured_at"`
}
