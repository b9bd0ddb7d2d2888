package domain

// Partition is one of the fixed, mutually exclusive connection classes
// processed in a fixed order within a run.
type Partition string

const (
	PartitionConnections Partition = "connections"
	PartitionFollowers   Partition = "followers"
	PartitionFollowing   Partition = "following"
)

// PartitionOrder is the fixed processing order for a run.
var PartitionOrder = []Partition{
	PartitionConnections,
	PartitionFollowers,
	PartitionFollowing,
}

// PartitionRank returns the position of p in the fixed order, or -1.
func PartitionRank(p Partition) int {
	for i, v := range PartitionOrder {
		if v == p {
			return i
		}
	}
	return -1
}

// RunState is the unit of resumability for one end-to-end processing run.
// It is created once per run (or reconstructed once per heal-restart) and is
// the single source of truth consulted before skipping any batch or item.
type RunState struct {
	// Identity/credential fields are passed through untouched.
	RequestID      string `json:"request_id"`
	Identity       string `json:"identity"`
	CredentialsRef string `json:"credentials_ref"`

	// RecursionCount is incremented each time healing restarts the run.
	RecursionCount int `json:"recursion_count"`

	// HealPhase and HealReason are set only while resuming from a healed
	// state; empty in a fresh run.
	HealPhase  string `json:"heal_phase,omitempty"`
	HealReason string `json:"heal_reason,omitempty"`

	// CurrentProcessingList is the partition currently being walked.
	CurrentProcessingList Partition `json:"current_processing_list"`

	// CurrentBatch and CurrentIndex mark the exact resume position.
	// CurrentIndex is only meaningful within CurrentBatch of
	// CurrentProcessingList.
	CurrentBatch int `json:"current_batch"`
	CurrentIndex int `json:"current_index"`

	// CompletedBatches holds batch numbers already fully processed for the
	// current partition.
	CompletedBatches []int `json:"completed_batches"`

	// MasterIndexKey references the persisted MasterIndex for this run.
	MasterIndexKey string `json:"master_index_key"`

	// TotalConnections holds per-partition item counts, informational.
	TotalConnections map[Partition]int `json:"total_connections,omitempty"`
}

// NewRunState builds a fresh state positioned at the first partition.
func NewRunState(requestID, identity, credentialsRef string) *RunState {
	return &RunState{
		RequestID:             requestID,
		Identity:              identity,
		CredentialsRef:        credentialsRef,
		CurrentProcessingList: PartitionOrder[0],
		TotalConnections:      make(map[Partition]int),
	}
}

// IsHealed reports whether this state was reconstructed by a heal-restart.
func (s *RunState) IsHealed() bool {
	return s.HealPhase != ""
}

// HasCompletedBatch reports whether batch n of the current partition is done.
func (s *RunState) HasCompletedBatch(n int) bool {
	for _, b := range s.CompletedBatches {
		if b == n {
			return true
		}
	}
	return false
}

// MarkBatchCompleted records batch n as done and resets the item offset.
func (s *RunState) MarkBatchCompleted(n int) {
	if !s.HasCompletedBatch(n) {
		s.CompletedBatches = append(s.CompletedBatches, n)
	}
	s.CurrentBatch = n + 1
	s.CurrentIndex = 0
}

// AdvancePartition moves the state to the given partition, resetting all
// batch bookkeeping. Completed batches only apply within one partition.
func (s *RunState) AdvancePartition(p Partition) {
	s.CurrentProcessingList = p
	s.CurrentBatch = 0
	s.CurrentIndex = 0
	s.CompletedBatches = nil
}
