package worker

type InitStatus string

const (
	InitPending InitStatus = "pending"
	InitSuccess InitStatus = "success"
	InitFailed  InitStatus = "failed"
)

// slot is a managed worker position, fixed by index for the pool's lifetime.
type slot struct {
	index  int
	worker Worker
	gen    int
	status InitStatus
	ready  bool
	jobID  string

	init      InitPayload
	initSends int
	retries   int
	stopTimer func() bool
	restart   func() bool
}

func (s *slot) idle() bool {
	return s.jobID == ""
}

func (s *slot) schedulable() bool {
	return s.worker != nil && s.status == InitSuccess && s.ready && s.idle()
}

func (s *slot) cancelTimers() {
	if s.stopTimer != nil {
		s.stopTimer()
		s.stopTimer = nil
	}
	if s.restart != nil {
		s.restart()
		s.restart = nil
	}
}

// SlotState is a read-only view of a slot.
type SlotState struct {
	Index  int        `json:"index"`
	Status InitStatus `json:"status"`
	Ready  bool       `json:"ready"`
	JobID  string     `json:"jobId,omitempty"`
}

func (s *slot) state() SlotState {
	return SlotState{
		Index:  s.index,
		Status: s.status,
		Ready:  s.ready,
		JobID:  s.jobID,
	}
}
