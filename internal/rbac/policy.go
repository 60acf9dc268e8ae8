// Package rbac centralises capability checks as a single policy table keyed
// by action, actor role and actor department, consulted once per operation
// instead of being re-implemented inside every trigger.
package rbac

import (
	"github.com/fixflow-erp/fixflow/internal/shared"
)

// Action names an operation gated by the policy table. Transition triggers
// and document operations share the same namespace.
type Action string

const (
	ActionRequestQuotation   Action = "REQUEST_QUOTATION"
	ActionMarkDone           Action = "MARK_DONE"
	ActionCustomerApprove    Action = "CUSTOMER_APPROVE"
	ActionCustomerReject     Action = "CUSTOMER_REJECT"
	ActionPartsReady         Action = "PARTS_READY"
	ActionTransferDepartment Action = "TRANSFER_DEPARTMENT"
	ActionReassignWorker     Action = "REASSIGN_WORKER"
	ActionRevertClose        Action = "REVERT_CLOSE"
	ActionAppendNote         Action = "APPEND_NOTE"
	ActionCloseWithDocument  Action = "CLOSE_WITH_DOCUMENT"
	ActionTriggerSweep       Action = "TRIGGER_ARCHIVE_SWEEP"

	ActionIssueDocument    Action = "ISSUE_DOCUMENT"
	ActionCancelReplace    Action = "CANCEL_REPLACE_DOCUMENT"
	ActionSendReview       Action = "SEND_DOCUMENT_REVIEW"
	ActionMarkDocumentPaid Action = "MARK_DOCUMENT_PAID"
	ActionEditDocument     Action = "EDIT_DOCUMENT"
)

type rule struct {
	roles       []shared.Role
	departments []shared.Department
}

// Policy answers allow/deny for (action, role, department). Actions without
// a rule are open to any authenticated actor.
type Policy struct {
	rules map[Action]rule
}

// NewPolicy returns the default workshop policy.
func NewPolicy() *Policy {
	adminOnly := rule{roles: []shared.Role{shared.RoleAdmin}}
	officeOrAdmin := rule{
		roles:       []shared.Role{shared.RoleAdmin, shared.RoleStaff},
		departments: []shared.Department{shared.DepartmentOffice},
	}
	return &Policy{rules: map[Action]rule{
		ActionTransferDepartment: adminOnly,
		ActionReassignWorker:     adminOnly,
		ActionRevertClose:        adminOnly,
		ActionTriggerSweep:       adminOnly,
		ActionIssueDocument:      officeOrAdmin,
		ActionCancelReplace:      officeOrAdmin,
		ActionSendReview:         officeOrAdmin,
		ActionMarkDocumentPaid:   officeOrAdmin,
		ActionEditDocument:       officeOrAdmin,
		ActionCloseWithDocument:  officeOrAdmin,
	}}
}

// Allow reports whether the actor may perform the action.
func (p *Policy) Allow(action Action, actor shared.Actor) bool {
	if p == nil {
		return false
	}
	r, ok := p.rules[action]
	if !ok {
		return actor.ID != ""
	}
	if actor.IsAdmin() {
		return true
	}
	if len(r.roles) > 0 && !containsRole(r.roles, actor.Role) {
		return false
	}
	if len(r.departments) > 0 && !containsDepartment(r.departments, actor.Department) {
		return false
	}
	return true
}

func containsRole(roles []shared.Role, role shared.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func containsDepartment(departments []shared.Department, dept shared.Department) bool {
	for _, d := range departments {
		if d == dept {
			return true
		}
	}
	return false
}
