package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fixflow-erp/fixflow/internal/shared"
)

func TestPolicyAllow(t *testing.T) {
	policy := NewPolicy()

	admin := shared.Actor{ID: "u1", Role: shared.RoleAdmin, Department: shared.DepartmentWinding}
	officeStaff := shared.Actor{ID: "u2", Role: shared.RoleStaff, Department: shared.DepartmentOffice}
	fieldStaff := shared.Actor{ID: "u3", Role: shared.RoleStaff, Department: shared.DepartmentField}
	technician := shared.Actor{ID: "u4", Role: shared.RoleTechnician, Department: shared.DepartmentOffice}
	anonymous := shared.Actor{}

	assert.True(t, policy.Allow(ActionRevertClose, admin))
	assert.False(t, policy.Allow(ActionRevertClose, officeStaff), "reverting a close is admin only")

	assert.True(t, policy.Allow(ActionIssueDocument, officeStaff))
	assert.True(t, policy.Allow(ActionIssueDocument, admin), "admin passes every rule regardless of department")
	assert.False(t, policy.Allow(ActionIssueDocument, fieldStaff), "office department required")
	assert.False(t, policy.Allow(ActionIssueDocument, technician), "staff role required")

	assert.True(t, policy.Allow(ActionAppendNote, technician), "unlisted actions are open to authenticated actors")
	assert.False(t, policy.Allow(ActionAppendNote, anonymous))

	var nilPolicy *Policy
	assert.False(t, nilPolicy.Allow(ActionAppendNote, admin))
}
