package clickup

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Millis is a ClickUp timestamp: Unix milliseconds, sent either as a JSON
// string or a number, or null when unset.
type Millis struct {
	time.Time
}

// UnmarshalJSON implements the json.Unmarshaler interface for Millis.
func (m *Millis) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" || s == "0" {
		m.Time = time.Time{}
		return nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("failed to parse ClickUp timestamp '%s': %w", s, err)
	}
	m.Time = time.UnixMilli(ms)
	return nil
}

// MarshalJSON implements the json.Marshaler interface for Millis.
func (m Millis) MarshalJSON() ([]byte, error) {
	if m.Time.IsZero() {
		return []byte(`null`), nil
	}
	return []byte(`"` + strconv.FormatInt(m.Time.UnixMilli(), 10) + `"`), nil
}

// Ptr returns nil for an unset timestamp.
func (m *Millis) Ptr() *time.Time {
	if m == nil || m.Time.IsZero() {
		return nil
	}
	t := m.Time
	return &t
}

type Space struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// List is a sprint or iteration container.
type List struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	DueDate         *Millis `json:"due_date,omitempty"`
	PercentComplete float64 `json:"percent_complete,omitempty"`
}

type User struct {
	ID       json.Number `json:"id,omitempty"`
	Username string      `json:"username,omitempty"`
	Name     string      `json:"name,omitempty"`
	Email    string      `json:"email,omitempty"`
}

// DisplayName prefers the username, then the full name, then the email.
func (u User) DisplayName() string {
	switch {
	case u.Username != "":
		return u.Username
	case u.Name != "":
		return u.Name
	default:
		return u.Email
	}
}

// CustomField keeps Value raw because its shape depends on the field type
// (people arrays, numbers, numeric strings, text).
type CustomField struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	DateUpdated *Millis         `json:"date_updated,omitempty"`
}

type Status struct {
	Status string `json:"status"`
	Type   string `json:"type,omitempty"`
}

type Task struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	URL          string        `json:"url"`
	Status       *Status       `json:"status,omitempty"`
	Assignees    []User        `json:"assignees,omitempty"`
	CustomFields []CustomField `json:"custom_fields,omitempty"`
	DateUpdated  *Millis       `json:"date_updated,omitempty"`
	Space        *TaskSpace    `json:"space,omitempty"`
}

type TaskSpace struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Field finds a custom field by name, ignoring case.
func (t Task) Field(name string) (CustomField, bool) {
	for _, f := range t.CustomFields {
		if f.Name != "" && strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return CustomField{}, false
}

type Comment struct {
	ID          string  `json:"id"`
	CommentText string  `json:"comment_text"`
	User        *User   `json:"user,omitempty"`
	Date        *Millis `json:"date,omitempty"`
}

type spacesResponse struct {
	Spaces []Space `json:"spaces"`
}

type foldersResponse struct {
	Folders []Folder `json:"folders"`
}

type listsResponse struct {
	Lists []List `json:"lists"`
}

type tasksResponse struct {
	Tasks    []Task `json:"tasks"`
	LastPage *bool  `json:"last_page,omitempty"`
}

type commentsResponse struct {
	Comments []Comment `json:"comments"`
}
