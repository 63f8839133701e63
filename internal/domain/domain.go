package domain

type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectPaused    ProjectStatus = "paused"
)

type WorkflowStatus string

const (
	WorkflowNotStarted WorkflowStatus = "not_started"
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowCompleted  WorkflowStatus = "completed"
)

type StepStatus string

const (
	StepComplete StepStatus = "complete"
	StepCurrent  StepStatus = "current"
	StepUpcoming StepStatus = "upcoming"
)

// DocketPriority drives the display dot and the urgent count only. Ranking uses DocketType.
type DocketPriority string

const (
	PriorityUrgent    DocketPriority = "urgent"
	PriorityAttention DocketPriority = "attention"
	PriorityDiscovery DocketPriority = "discovery"
	PriorityMuted     DocketPriority = "muted"
)

type DocketType string

const (
	DocketOperational DocketType = "operational"
	DocketReview      DocketType = "review"
	DocketDiscovery   DocketType = "discovery"
	DocketCreative    DocketType = "creative"
	DocketCalendar    DocketType = "calendar"
)

type NoteKind string

const (
	NoteFeedback NoteKind = "feedback"
	NoteComment  NoteKind = "comment"
)

type Client struct {
	ID       string `json:"id" yaml:"id" validate:"required"`
	Name     string `json:"name" yaml:"name" validate:"required"`
	Industry string `json:"industry,omitempty" yaml:"industry"`
	Contact  string `json:"contact,omitempty" yaml:"contact"`
}

type Project struct {
	ID              string        `json:"id" yaml:"id" validate:"required"`
	ClientID        string        `json:"client_id" yaml:"client_id" validate:"required"`
	Name            string        `json:"name" yaml:"name" validate:"required"`
	Status          ProjectStatus `json:"status" yaml:"status" validate:"required,oneof=active completed paused" enum:"active,completed,paused"`
	DaysUntilLaunch *int          `json:"days_until_launch,omitempty" yaml:"days_until_launch"`
	Description     string        `json:"description,omitempty" yaml:"description"`
}

type Agent struct {
	ID          string `json:"id" yaml:"id" validate:"required"`
	Name        string `json:"name" yaml:"name" validate:"required"`
	Role        string `json:"role" yaml:"role" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description"`
}

type CalendarEvent struct {
	ID        string `json:"id" yaml:"id" validate:"required"`
	ProjectID string `json:"project_id,omitempty" yaml:"project_id"`
	Title     string `json:"title" yaml:"title" validate:"required"`
	Kind      string `json:"kind" yaml:"kind" validate:"required"`
	StartsAt  string `json:"starts_at" yaml:"starts_at" validate:"required" format:"date-time"`
	EndsAt    string `json:"ends_at" yaml:"ends_at" validate:"required" format:"date-time"`
}

type Note struct {
	ID        string   `json:"id" yaml:"id"`
	Author    string   `json:"author" yaml:"author"`
	Kind      NoteKind `json:"kind" yaml:"kind" enum:"feedback,comment"`
	Body      string   `json:"body" yaml:"body"`
	CreatedAt string   `json:"created_at" yaml:"created_at" format:"date-time"`
}

type Step struct {
	ID          string     `json:"id" yaml:"id" validate:"required"`
	Name        string     `json:"name" yaml:"name" validate:"required"`
	Status      StepStatus `json:"status" yaml:"status" validate:"required,oneof=complete current upcoming" enum:"complete,current,upcoming"`
	Assignee    *string    `json:"assignee,omitempty" yaml:"assignee"`
	Agents      []string   `json:"agents" yaml:"agents"`
	StartedAt   *string    `json:"started_at,omitempty" yaml:"started_at" format:"date-time"`
	CompletedAt *string    `json:"completed_at,omitempty" yaml:"completed_at" format:"date-time"`
	Skipped     bool       `json:"skipped,omitempty" yaml:"skipped"`
	Documents   []string   `json:"documents,omitempty" yaml:"documents"`
	Notes       []Note     `json:"notes,omitempty" yaml:"notes"`
}

// DecisionPoint reports whether progressing the step needs a human choice.
func (s Step) DecisionPoint() bool {
	return s.Assignee != nil && *s.Assignee != ""
}

type Workflow struct {
	ID          string         `json:"id" yaml:"id" validate:"required"`
	ProjectID   string         `json:"project_id" yaml:"project_id" validate:"required"`
	Name        string         `json:"name" yaml:"name" validate:"required"`
	Status      WorkflowStatus `json:"status" yaml:"status" validate:"required,oneof=not_started in_progress completed" enum:"not_started,in_progress,completed"`
	CurrentStep int            `json:"current_step" yaml:"current_step"`
	Steps       []Step         `json:"steps" yaml:"steps" validate:"dive"`
	UpdatedAt   string         `json:"updated_at,omitempty" yaml:"updated_at" format:"date-time"`
}

type DocketItem struct {
	ID         string         `json:"id" yaml:"id" validate:"required"`
	ProjectID  string         `json:"project_id" yaml:"project_id" validate:"required"`
	WorkflowID string         `json:"workflow_id,omitempty" yaml:"workflow_id"`
	StepID     string         `json:"step_id,omitempty" yaml:"step_id"`
	Title      string         `json:"title" yaml:"title" validate:"required"`
	Summary    string         `json:"summary,omitempty" yaml:"summary"`
	Priority   DocketPriority `json:"priority" yaml:"priority" validate:"required,oneof=urgent attention discovery muted" enum:"urgent,attention,discovery,muted"`
	Type       DocketType     `json:"type" yaml:"type" validate:"required,oneof=review creative discovery calendar operational" enum:"review,creative,discovery,calendar,operational"`
	Agents     []string       `json:"agents" yaml:"agents"`
	CreatedAt  string         `json:"created_at" yaml:"created_at" format:"date-time"`
	ArchivedAt *string        `json:"archived_at,omitempty" yaml:"archived_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
