package models

// Column is an editable content field that can be granted per role.
type Column string

const (
	ColumnDesignBrief Column = "design_brief"
	ColumnInspiration Column = "inspiration"
	ColumnDesign      Column = "design"
	ColumnTextContent Column = "text_content"
	ColumnDriveLink   Column = "drive_link"
	ColumnNotes       Column = "notes"
	ColumnStatus      Column = "status"
)

// Columns lists every editable column in display order.
var Columns = []Column{
	ColumnDesignBrief,
	ColumnInspiration,
	ColumnDesign,
	ColumnTextContent,
	ColumnDriveLink,
	ColumnNotes,
	ColumnStatus,
}

// ContentColumnFields maps content record fields onto the column that gates them.
var ContentColumnFields = map[string]Column{
	"designBrief": ColumnDesignBrief,
	"inspiration": ColumnInspiration,
	"design":      ColumnDesign,
	"textContent": ColumnTextContent,
	"driveLink":   ColumnDriveLink,
	"notes":       ColumnNotes,
	"status":      ColumnStatus,
}

// Resource is a record type that actions are granted on.
type Resource string

const (
	ResourceClients   Resource = "clients"
	ResourceProjects  Resource = "projects"
	ResourceTasks     Resource = "tasks"
	ResourceContent   Resource = "content"
	ResourceCampaigns Resource = "campaigns"
	ResourceUsers     Resource = "users"
	ResourceMessages  Resource = "messages"
)

var Resources = []Resource{
	ResourceClients,
	ResourceProjects,
	ResourceTasks,
	ResourceContent,
	ResourceCampaigns,
	ResourceUsers,
	ResourceMessages,
}

// Action is a CRUD-style right on a resource.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionExport Action = "export"
)

var Actions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionExport}

// ActionFor maps a mutation onto the right it requires.
func ActionFor(op Operation) Action {
	switch op {
	case OperationCreate:
		return ActionCreate
	case OperationDelete:
		return ActionDelete
	default:
		return ActionUpdate
	}
}

func IsValidColumn(c Column) bool {
	for _, known := range Columns {
		if known == c {
			return true
		}
	}
	return false
}

func IsValidResource(r Resource) bool {
	for _, known := range Resources {
		if known == r {
			return true
		}
	}
	return false
}

func IsValidAction(a Action) bool {
	for _, known := range Actions {
		if known == a {
			return true
		}
	}
	return false
}

// ColumnPermission is one role's editing right over one column.
type ColumnPermission struct {
	Role    string `json:"role"`
	Column  Column `json:"column"`
	CanEdit bool   `json:"canEdit"`
}

// ActionPermission is one role's right to perform one action on one resource.
type ActionPermission struct {
	Role       string   `json:"role"`
	Resource   Resource `json:"resource"`
	Action     Action   `json:"action"`
	CanPerform bool     `json:"canPerform"`
}
