package model

// VoteTally aggregates recorded votes for one prompt of a stream.
type VoteTally struct {
	StreamID   string  `json:"streamId"`
	PromptID   string  `json:"promptId"`
	BullVotes  int64   `json:"bullVotes"`
	BearVotes  int64   `json:"bearVotes"`
	BullAmount float64 `json:"bullAmount"`
	BearAmount float64 `json:"bearAmount"`
}

// BullShare returns the bull fraction of the total amount, 0.5 when empty.
func (t VoteTally) BullShare() float64 {
	total := t.BullAmount + t.BearAmount
	if total == 0 {
		return 0.5
	}
	return t.BullAmount / total
}
