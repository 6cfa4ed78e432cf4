package models

// Client is an agency customer account.
type Client struct {
	ID             string  `json:"id"`
	Name           string  `json:"name" validate:"required,min=2"`
	Email          string  `json:"email,omitempty" validate:"omitempty,email"`
	Phone          string  `json:"phone,omitempty"`
	Company        string  `json:"company,omitempty"`
	Industry       string  `json:"industry,omitempty"`
	Status         string  `json:"status,omitempty" validate:"omitempty,oneof=active inactive prospect"`
	AccountManager string  `json:"accountManager,omitempty"`
	MonthlyBudget  float64 `json:"monthlyBudget,omitempty" validate:"gte=0"`
	CreatedAt      string  `json:"createdAt,omitempty"`
}

func (c Client) EntityID() string { return c.ID }

// Project groups tasks and content for one client.
type Project struct {
	ID             string  `json:"id"`
	Name           string  `json:"name" validate:"required,min=2"`
	Description    string  `json:"description,omitempty"`
	ClientID       string  `json:"clientId,omitempty"`
	ProjectManager string  `json:"projectManager,omitempty"`
	Status         string  `json:"status,omitempty" validate:"omitempty,oneof=planning active on_hold completed cancelled"`
	Progress       int     `json:"progress" validate:"gte=0,lte=100"`
	Budget         float64 `json:"budget,omitempty" validate:"gte=0"`
	StartDate      string  `json:"startDate,omitempty"`
	EndDate        string  `json:"endDate,omitempty"`
}

func (p Project) EntityID() string { return p.ID }

type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description,omitempty"`
	ProjectID   string `json:"projectId,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
	Status      string `json:"status,omitempty" validate:"omitempty,oneof=todo in_progress review done"`
	Priority    string `json:"priority,omitempty" validate:"omitempty,oneof=low medium high urgent"`
	Progress    int    `json:"progress" validate:"gte=0,lte=100"`
	DueDate     string `json:"dueDate,omitempty"`
}

func (t Task) EntityID() string { return t.ID }

type Campaign struct {
	ID        string  `json:"id"`
	Name      string  `json:"name" validate:"required"`
	ClientID  string  `json:"clientId,omitempty"`
	Platform  string  `json:"platform,omitempty"`
	Objective string  `json:"objective,omitempty"`
	Status    string  `json:"status,omitempty" validate:"omitempty,oneof=draft active paused completed"`
	Budget    float64 `json:"budget,omitempty" validate:"gte=0"`
	Spent     float64 `json:"spent,omitempty" validate:"gte=0"`
	StartDate string  `json:"startDate,omitempty"`
	EndDate   string  `json:"endDate,omitempty"`
}

func (c Campaign) EntityID() string { return c.ID }

// Content is one planned post, reel or story. Its creative fields are the
// editable columns gated per role.
type Content struct {
	ID          string `json:"id"`
	Title       string `json:"title" validate:"required"`
	ClientID    string `json:"clientId,omitempty"`
	ProjectID   string `json:"projectId,omitempty"`
	Platform    string `json:"platform,omitempty"`
	Format      string `json:"format,omitempty" validate:"omitempty,oneof=post reel story video article"`
	PublishDate string `json:"publishDate,omitempty"`
	DesignBrief string `json:"designBrief,omitempty"`
	Inspiration string `json:"inspiration,omitempty"`
	Design      string `json:"design,omitempty"`
	TextContent string `json:"textContent,omitempty"`
	DriveLink   string `json:"driveLink,omitempty" validate:"omitempty,url"`
	Notes       string `json:"notes,omitempty"`
	Status      string `json:"status,omitempty"`
	CreatedBy   string `json:"createdBy,omitempty"`
}

func (c Content) EntityID() string { return c.ID }
