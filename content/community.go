package content

import "github.com/google/uuid"

// Community is a node of the repository hierarchy. Its parent (if any) and
// its children are held in link tables, not on the struct.
type Community struct {
	ObjectBase
	Name             string    `json:"name"`
	ShortDescription string    `json:"shortDescription,omitempty"`
	IntroductoryText string    `json:"introductoryText,omitempty"`
	CopyrightText    string    `json:"copyrightText,omitempty"`
	SideBarText      string    `json:"sideBarText,omitempty"`
	LogoID           uuid.UUID `json:"logoID"`
	AdminGroupID     uuid.UUID `json:"adminGroupID"`
}

func (c *Community) Type() Type { return TypeCommunity }

// Collection groups items. Exactly one parent community owns it at any time
// although the link table permits several during a move.
type Collection struct {
	ObjectBase
	Name              string      `json:"name"`
	ShortDescription  string      `json:"shortDescription,omitempty"`
	IntroductoryText  string      `json:"introductoryText,omitempty"`
	CopyrightText     string      `json:"copyrightText,omitempty"`
	SideBarText       string      `json:"sideBarText,omitempty"`
	License           string      `json:"license,omitempty"`
	Provenance        string      `json:"provenance,omitempty"`
	LogoID            uuid.UUID   `json:"logoID"`
	TemplateItemID    uuid.UUID   `json:"templateItemID"`
	AdminGroupID      uuid.UUID   `json:"adminGroupID"`
	SubmittersGroupID uuid.UUID   `json:"submittersGroupID"`
	WorkflowGroupIDs  []uuid.UUID `json:"workflowGroupIDs,omitempty"`
}

func (c *Collection) Type() Type { return TypeCollection }

// WorkflowSteps is the number of workflow step groups a collection can own.
const WorkflowSteps = 3

// SetWorkflowGroup assigns the group for a 1-based workflow step.
func (c *Collection) SetWorkflowGroup(step int, group uuid.UUID) {
	if step < 1 || step > WorkflowSteps {
		return
	}
	if len(c.WorkflowGroupIDs) < WorkflowSteps {
		groups := make([]uuid.UUID, WorkflowSteps)
		copy(groups, c.WorkflowGroupIDs)
		c.WorkflowGroupIDs = groups
	}
	c.WorkflowGroupIDs[step-1] = group
}

// WorkflowGroup returns the group of a 1-based workflow step or uuid.Nil.
func (c *Collection) WorkflowGroup(step int) uuid.UUID {
	if step < 1 || step > len(c.WorkflowGroupIDs) {
		return uuid.Nil
	}
	return c.WorkflowGroupIDs[step-1]
}
