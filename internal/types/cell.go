package types

// Status is the closed set of cell lifecycle states.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusClosed     Status = "closed"
	// StatusTombstone appears only in on-disk JSONL records and is
	// normalized to StatusClosed on import (spec §3).
	StatusTombstone Status = "tombstone"
)

// IssueType is the closed set of cell kinds.
type IssueType string

const (
	TypeBug     IssueType = "bug"
	TypeFeature IssueType = "feature"
	TypeTask    IssueType = "task"
	TypeEpic    IssueType = "epic"
	TypeChore   IssueType = "chore"
)

// validTransitions enumerates the cell status machine from spec §4.5:
// open ↔ in_progress, open ↔ blocked, in_progress ↔ blocked, any → closed.
// closed is terminal; closing an already-closed cell is a no-op success
// allowed by CanTransition's from == to check, not by an entry here.
var validTransitions = map[Status]map[Status]bool{
	StatusOpen: {
		StatusInProgress: true,
		StatusBlocked:    true,
		StatusClosed:     true,
	},
	StatusInProgress: {
		StatusOpen:    true,
		StatusBlocked: true,
		StatusClosed:  true,
	},
	StatusBlocked: {
		StatusOpen:       true,
		StatusInProgress: true,
		StatusClosed:     true,
	},
	StatusClosed: {},
}

// CanTransition reports whether a cell may move from "from" to "to".
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return validTransitions[from][to]
}

// Cell is a work-item row: bug, feature, task, epic, or chore.
type Cell struct {
	ID          string    `json:"id"`
	ProjectKey  string    `json:"project_key"`
	Type        IssueType `json:"issue_type"`
	Status      Status    `json:"status"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Priority    int       `json:"priority"` // 0..3, lower is more urgent
	ParentID    string    `json:"parent_id,omitempty"`
	Assignee    string    `json:"assignee,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   int64     `json:"created_at"`
	UpdatedAt   int64     `json:"updated_at"`
	ClosedAt    int64     `json:"closed_at,omitempty"`
}

// CreateCellArgs is the input to CellTracker.CreateCell.
type CreateCellArgs struct {
	ProjectKey  string
	Type        IssueType
	Title       string
	Description string
	Priority    int
	ParentID    string
	Assignee    string
	Metadata    map[string]any
}

// CreateEpicArgs is the input to CellTracker.CreateEpic.
type CreateEpicArgs struct {
	ProjectKey string
	EpicTitle  string
	EpicDescription string
	Priority   int
	Subtasks   []CreateCellArgs
}

// QueryCellsArgs filters CellTracker.QueryCells on exact values.
type QueryCellsArgs struct {
	ProjectKey string
	Status     *Status
	Type       *IssueType
	ParentID   *string
	Ready      bool
	Limit      int
}

// UpdateCellPatch carries the subset of mutable Cell fields a caller wants
// to change; nil/zero fields are left untouched.
type UpdateCellPatch struct {
	Title       *string
	Description *string
	Priority    *int
	Assignee    *string
	Metadata    map[string]any
}

// EpicProgress summarizes subtask completion for one epic.
type EpicProgress struct {
	EpicID         string `json:"epic_id"`
	TotalChildren  int    `json:"total_children"`
	ClosedChildren int    `json:"closed_children"`
}

// EligibleForClose reports whether every subtask of the epic is closed.
func (p EpicProgress) EligibleForClose() bool {
	return p.TotalChildren > 0 && p.ClosedChildren == p.TotalChildren
}
