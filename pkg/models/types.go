package models

import (
	"time"
)

// ==================== Run Status Types ====================

// RunStatus represents the status of a verification run or phase
type RunStatus string

const (
	StatusPending RunStatus = "pending"
	StatusRunning RunStatus = "running"
	StatusSuccess RunStatus = "success"
	StatusFailed  RunStatus = "failed"
	StatusSkipped RunStatus = "skipped"
)

// Terminal reports whether no further updates are expected for a run in this status
func (s RunStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Phase names one step of the verification protocol
type Phase string

const (
	PhaseBootstrap Phase = "bootstrap"  // Browser + page launch, console sink attached
	PhaseSettle    Phase = "settle"     // Navigate and wait for the sentinel text to change
	PhaseStructure Phase = "structure"  // Dependent container is visible
	PhaseToggle    Phase = "toggle"     // Theme flips to the complement of the baseline
	PhaseRoundTrip Phase = "round_trip" // Second toggle restores the baseline
)

// ToggleState is the state machine of a single toggle verification
type ToggleState string

const (
	ToggleInit         ToggleState = "INIT"
	ToggleBaselineRead ToggleState = "BASELINE_READ"
	ToggleActionTaken  ToggleState = "ACTION_TAKEN"
	ToggleSettled      ToggleState = "SETTLED"
	ToggleVerified     ToggleState = "VERIFIED"
	ToggleFailed       ToggleState = "FAILED"
)

// ==================== Wait Condition Types ====================

// Predicate is what a WaitCondition waits for
type Predicate string

const (
	PredicateTextDiffers Predicate = "text_differs" // Element text != sentinel
	PredicateHasToken    Predicate = "has_token"    // Attribute/class list contains token
)

// WaitCondition is a bounded wait on one element
type WaitCondition struct {
	Selector  string        `json:"selector"`
	Predicate Predicate     `json:"predicate"`
	Value     string        `json:"value"` // Sentinel text or token
	Attribute string        `json:"attribute,omitempty"`
	Timeout   time.Duration `json:"timeout"`
	Interval  time.Duration `json:"interval"`
}

// ObservedState is a snapshot of one DOM property at a specific instant
type ObservedState struct {
	Selector   string    `json:"selector"`
	Attribute  string    `json:"attribute"`
	Token      string    `json:"token"`
	Raw        string    `json:"raw"`
	Present    bool      `json:"present"`   // Attribute exists on the element
	HasToken   bool      `json:"has_token"` // Raw contains Token as an exact token
	ObservedAt time.Time `json:"observed_at"`
}

// ==================== Artifact Types ====================

// Artifact is a screenshot written as evidence for one phase
type Artifact struct {
	Name       string    `json:"name"`
	Phase      Phase     `json:"phase"`
	Path       string    `json:"path"`
	URL        string    `json:"url,omitempty"` // Set when mirrored to object storage
	CapturedAt time.Time `json:"captured_at"`
}

// Artifact names, one per phase screenshot
const (
	ArtifactSettled        = "settled"
	ArtifactStructure      = "structure"
	ArtifactToggleBaseline = "toggle_baseline"
	ArtifactTogglePost     = "toggle_post"
	ArtifactRoundTrip      = "round_trip"
	ArtifactTimeout        = "debug_timeout"
	ArtifactSettleError    = "debug_settle_error"
	ArtifactStructureFail  = "debug_structure"
	ArtifactToggleFail     = "debug_toggle"
)

// ConsoleMessage is one entry from the page's console channel
type ConsoleMessage struct {
	Level     string    `json:"level"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ==================== Run Result Types ====================

// PhaseResult represents the outcome of one protocol phase
type PhaseResult struct {
	Phase      Phase     `json:"phase"`
	Status     RunStatus `json:"status"`
	Message    string    `json:"message,omitempty"`
	Artifact   string    `json:"artifact,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// RunResult is the machine-readable outcome of a verification run.
// ToggleState, Baseline and Post describe the first toggle; the optional
// second toggle only reports RoundTripState.
type RunResult struct {
	ID          string           `json:"id" db:"id"`
	TargetURL   string           `json:"target_url" db:"target_url"`
	Driver      string           `json:"driver" db:"driver"`
	Status      RunStatus        `json:"status" db:"status"`
	Phase       Phase            `json:"phase,omitempty" db:"phase"` // Failing phase, empty on success
	Kind        string           `json:"kind,omitempty" db:"kind"`   // Error kind, empty on success
	Message     string           `json:"message,omitempty" db:"message"`
	SettledText string           `json:"settled_text,omitempty" db:"settled_text"`
	ToggleState ToggleState      `json:"toggle_state,omitempty" db:"toggle_state"`
	Baseline    *ObservedState   `json:"baseline,omitempty"`
	Post        *ObservedState   `json:"post,omitempty"`
	Phases      []PhaseResult    `json:"phases"`
	Artifacts   []Artifact       `json:"artifacts"`
	Console     []ConsoleMessage `json:"console,omitempty"`
	StartedAt   time.Time        `json:"started_at" db:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	DurationMs  int64            `json:"duration_ms" db:"duration_ms"`

	RoundTripState ToggleState `json:"round_trip_state,omitempty"`
}

// AddPhase appends a phase outcome
func (r *RunResult) AddPhase(p PhaseResult) {
	r.Phases = append(r.Phases, p)
}

// AddArtifact appends an artifact reference
func (r *RunResult) AddArtifact(a Artifact) {
	r.Artifacts = append(r.Artifacts, a)
}

// ArtifactByName finds an artifact by name
func (r *RunResult) ArtifactByName(name string) (Artifact, bool) {
	for _, a := range r.Artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return Artifact{}, false
}

// ==================== API Request/Response Types ====================

// RunRequest represents a request to start a verification run.
// Zero values keep the server's configured defaults.
type RunRequest struct {
	TargetURL          string `json:"target_url,omitempty"`
	TimeoutMs          int    `json:"timeout_ms,omitempty"`
	TransitionSettleMs int    `json:"transition_settle_ms,omitempty"`
	Driver             string `json:"driver,omitempty"`
	RoundTrip          *bool  `json:"round_trip,omitempty"`
}

// RunResponse is returned when a run has been accepted
type RunResponse struct {
	RunID  string    `json:"run_id"`
	Status RunStatus `json:"status"`
}

// ==================== WebSocket Message Types ====================

// Event types streamed while a run executes
const (
	EventPhase   = "phase"
	EventConsole = "console"
	EventResult  = "result"
)

// RunEvent is emitted by the runner as the protocol progresses
type RunEvent struct {
	RunID   string          `json:"run_id"`
	Type    string          `json:"type"`
	Phase   Phase           `json:"phase,omitempty"`
	Status  RunStatus       `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Console *ConsoleMessage `json:"console,omitempty"`
	Result  *RunResult      `json:"result,omitempty"`
	Time    time.Time       `json:"time"`
}

// WSMessage represents a WebSocket message for real-time updates
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
