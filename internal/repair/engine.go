package repair

import (
	"fmt"
	"strings"

	"github.com/fixflow-erp/fixflow/internal/rbac"
	"github.com/fixflow-erp/fixflow/internal/shared"
)

// Trigger enumerates state machine triggers. APPEND_NOTE and AUTO_ESCALATE
// are kept as separate triggers so the trigger set stays orthogonal: the
// engine composes them when a field note arrives on an in-progress job.
type Trigger string

const (
	TriggerRequestQuotation   Trigger = "REQUEST_QUOTATION"
	TriggerMarkDone           Trigger = "MARK_DONE"
	TriggerCustomerApprove    Trigger = "CUSTOMER_APPROVE"
	TriggerCustomerReject     Trigger = "CUSTOMER_REJECT"
	TriggerPartsReady         Trigger = "PARTS_READY"
	TriggerTransferDepartment Trigger = "TRANSFER_DEPARTMENT"
	TriggerReassignWorker     Trigger = "REASSIGN_WORKER"
	TriggerRevertClose        Trigger = "REVERT_CLOSE"
	TriggerAppendNote         Trigger = "APPEND_NOTE"
	TriggerAutoEscalate       Trigger = "AUTO_ESCALATE"
)

// TransitionInput carries a trigger with its parameters.
type TransitionInput struct {
	Trigger       Trigger
	WithCost      bool
	Reason        string
	NewDepartment shared.Department
	Worker        *Worker
	Note          string
	Photos        []string
}

// Transition is the accepted outcome: exactly one job patch and exactly one
// activity text, handed to the ledger for atomic application.
type Transition struct {
	NewStatus    Status
	Patch        JobPatch
	ActivityText string
	Photos       []string
}

// TransitionError rejects a trigger attempted from a state that does not
// allow it. No partial writes happen on rejection.
type TransitionError struct {
	Current Status
	Trigger Trigger
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot apply %s from status %s", e.Trigger, e.Current)
}

func (e *TransitionError) Unwrap() error { return shared.ErrInvalidTransition }

var validFrom = map[Trigger][]Status{
	TriggerRequestQuotation: {StatusInProgress},
	TriggerMarkDone:         {StatusInProgress, StatusWaitingQuotation, StatusWaitingApprove, StatusInRepairProcess},
	TriggerCustomerApprove:  {StatusWaitingApprove},
	TriggerCustomerReject:   {StatusWaitingApprove},
	TriggerPartsReady:       {StatusPendingParts},
	TriggerAutoEscalate:     {StatusInProgress},
}

// Engine validates and applies job status changes. It holds no state; every
// call re-evaluates against the job passed in.
type Engine struct {
	policy *rbac.Policy
}

// NewEngine constructs the engine around the capability policy table.
func NewEngine(policy *rbac.Policy) *Engine {
	return &Engine{policy: policy}
}

// Apply validates the trigger against the current job state and the actor
// and, when accepted, returns the single patch + activity pair describing
// the transition. Guard and validation failures surface before any write.
func (e *Engine) Apply(job *Job, in TransitionInput, actor shared.Actor) (*Transition, error) {
	if job == nil {
		return nil, fmt.Errorf("%w: job required", shared.ErrValidation)
	}
	if !e.policy.Allow(rbac.Action(in.Trigger), actor) {
		return nil, fmt.Errorf("%w: %s requires elevated role", shared.ErrUnauthorized, in.Trigger)
	}

	switch in.Trigger {
	case TriggerRequestQuotation, TriggerMarkDone, TriggerCustomerApprove,
		TriggerCustomerReject, TriggerPartsReady, TriggerAutoEscalate:
		if err := e.guard(job, in.Trigger); err != nil {
			return nil, err
		}
	case TriggerTransferDepartment, TriggerReassignWorker, TriggerRevertClose, TriggerAppendNote:
		// Guarded per trigger below.
	default:
		return nil, fmt.Errorf("%w: unknown trigger %q", shared.ErrValidation, in.Trigger)
	}

	switch in.Trigger {
	case TriggerRequestQuotation:
		return e.statusChange(job, StatusWaitingQuotation, "Quotation requested"), nil

	case TriggerMarkDone:
		return e.statusChange(job, StatusDone, "Repair work finished"), nil

	case TriggerCustomerApprove:
		return e.statusChange(job, StatusPendingParts, "Customer approved the quotation"), nil

	case TriggerCustomerReject:
		return e.customerReject(job, in)

	case TriggerPartsReady:
		return e.statusChange(job, StatusInRepairProcess, "Parts received, repair started"), nil

	case TriggerTransferDepartment:
		return e.transferDepartment(job, in)

	case TriggerReassignWorker:
		return e.reassignWorker(job, in)

	case TriggerRevertClose:
		return e.revertClose(job, in)

	case TriggerAppendNote:
		return e.appendNote(job, in)

	case TriggerAutoEscalate:
		return e.statusChange(job, StatusWaitingQuotation, ""), nil
	}

	return nil, fmt.Errorf("%w: unknown trigger %q", shared.ErrValidation, in.Trigger)
}

// ApplyNote composes APPEND_NOTE with a conditional AUTO_ESCALATE: a field
// note on an in-progress job from outside the office moves the job to
// WAITING_QUOTATION, and the activity text is the status-change line
// followed by the note. Escalation re-applies on every qualifying note.
func (e *Engine) ApplyNote(job *Job, note string, photos []string, actor shared.Actor) (*Transition, error) {
	t, err := e.Apply(job, TransitionInput{Trigger: TriggerAppendNote, Note: note, Photos: photos}, actor)
	if err != nil {
		return nil, err
	}
	if !e.ShouldAutoEscalate(job, actor) {
		return t, nil
	}
	esc, err := e.Apply(job, TransitionInput{Trigger: TriggerAutoEscalate}, actor)
	if err != nil {
		return nil, err
	}
	esc.ActivityText = esc.ActivityText + "\n" + t.ActivityText
	esc.Photos = t.Photos
	return esc, nil
}

// ShouldAutoEscalate reports whether appending a note should also fire the
// escalation transition.
func (e *Engine) ShouldAutoEscalate(job *Job, actor shared.Actor) bool {
	return job.Status == StatusInProgress && actor.Department != shared.DepartmentOffice
}

func (e *Engine) guard(job *Job, trigger Trigger) error {
	for _, s := range validFrom[trigger] {
		if job.Status == s {
			return nil
		}
	}
	return &TransitionError{Current: job.Status, Trigger: trigger}
}

func (e *Engine) statusChange(job *Job, next Status, headline string) *Transition {
	lines := []string{}
	if headline != "" {
		lines = append(lines, headline)
	}
	lines = append(lines, fmt.Sprintf("Status changed: %s -> %s", job.Status, next))
	return &Transition{
		NewStatus:    next,
		Patch:        JobPatch{"status": next},
		ActivityText: strings.Join(lines, "\n"),
	}
}

func (e *Engine) customerReject(job *Job, in TransitionInput) (*Transition, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return nil, fmt.Errorf("%w: rejection reason required", shared.ErrValidation)
	}
	next := StatusClosed
	if in.WithCost {
		next = StatusDone
	}
	t := e.statusChange(job, next, fmt.Sprintf("Customer rejected the quotation: %s", in.Reason))
	t.ActivityText += fmt.Sprintf("\nNotified %s department", job.Department)
	if next == StatusClosed {
		now := nowFunc()
		t.Patch["closed_date"] = now
	}
	return t, nil
}

func (e *Engine) transferDepartment(job *Job, in TransitionInput) (*Transition, error) {
	if job.Terminal() {
		return nil, &TransitionError{Current: job.Status, Trigger: in.Trigger}
	}
	if !shared.ValidDepartment(in.NewDepartment) {
		return nil, fmt.Errorf("%w: unknown department %q", shared.ErrValidation, in.NewDepartment)
	}
	t := e.statusChange(job, StatusReceived, fmt.Sprintf("Transferred to %s department", in.NewDepartment))
	t.Patch["department"] = in.NewDepartment
	t.Patch["assignee_id"] = nil
	t.Patch["assignee_name"] = nil
	return t, nil
}

func (e *Engine) reassignWorker(job *Job, in TransitionInput) (*Transition, error) {
	if job.Terminal() {
		return nil, &TransitionError{Current: job.Status, Trigger: in.Trigger}
	}
	if in.Worker == nil {
		return nil, fmt.Errorf("%w: worker required", shared.ErrValidation)
	}
	if !in.Worker.Active {
		return nil, fmt.Errorf("%w: worker %s is inactive", shared.ErrValidation, in.Worker.ID)
	}
	if in.Worker.Department != job.Department {
		return nil, fmt.Errorf("%w: worker %s belongs to %s, job is in %s",
			shared.ErrValidation, in.Worker.ID, in.Worker.Department, job.Department)
	}
	return &Transition{
		NewStatus: job.Status,
		Patch: JobPatch{
			"assignee_id":   in.Worker.ID,
			"assignee_name": in.Worker.Name,
		},
		ActivityText: fmt.Sprintf("Assigned to %s", in.Worker.Name),
	}, nil
}

func (e *Engine) revertClose(job *Job, in TransitionInput) (*Transition, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return nil, fmt.Errorf("%w: revert reason required", shared.ErrValidation)
	}
	revertible := job.Status == StatusClosed || (job.Status == StatusDone && job.PickupDate != nil)
	if !revertible {
		return nil, &TransitionError{Current: job.Status, Trigger: in.Trigger}
	}
	t := e.statusChange(job, StatusWaitingPickup, fmt.Sprintf("Reopened for customer pickup: %s", in.Reason))
	t.Patch["pickup_date"] = nil
	t.Patch["closed_date"] = nil
	return t, nil
}

func (e *Engine) appendNote(job *Job, in TransitionInput) (*Transition, error) {
	if strings.TrimSpace(in.Note) == "" {
		return nil, fmt.Errorf("%w: note text required", shared.ErrValidation)
	}
	if job.Terminal() {
		return nil, &TransitionError{Current: job.Status, Trigger: in.Trigger}
	}
	return &Transition{
		NewStatus:    job.Status,
		Patch:        JobPatch{},
		ActivityText: in.Note,
		Photos:       in.Photos,
	}, nil
}
