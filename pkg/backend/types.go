package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is an identifier the backend sends either as a JSON number or a
// string. It is kept in its decimal string form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes integral ids as numbers, the form the PHP endpoints
// compare against.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) String() string { return string(id) }

// Bool accepts true/false, 0/1 and "0"/"1".
type Bool bool

func (b *Bool) UnmarshalJSON(data []byte) error {
	switch string(bytes.Trim(bytes.TrimSpace(data), `"`)) {
	case "true", "1":
		*b = true
	case "false", "0", "", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

type TaskList struct {
	ID        ID     `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	OwnerID   ID     `json:"user_id,omitempty"`
	TaskCount int    `json:"task_count,omitempty"`
	Shared    Bool   `json:"is_shared,omitempty"`
}

type Task struct {
	ID          ID     `json:"id,omitempty"`
	ListID      ID     `json:"list_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Priority    string `json:"priority,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Completed   Bool   `json:"completed"`
}

type User struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type Share struct {
	ListID          ID     `json:"list_id"`
	SharedWithID    ID     `json:"shared_with_user_id"`
	Name            string `json:"name,omitempty"`
	Email           string `json:"email,omitempty"`
	PermissionLevel string `json:"permission_level"`
}

// Result is the generic acknowledgement of a mutating endpoint.
type Result struct {
	Success Bool   `json:"success"`
	ID      ID     `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

type Upload struct {
	Success  Bool   `json:"success"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}
