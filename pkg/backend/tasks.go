package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
)

func (c *Client) TaskLists(ctx context.Context) ([]TaskList, error) {
	var lists []TaskList
	if err := c.getJSON(ctx, "get_task_lists.php", "lists", &lists); err != nil {
		return nil, err
	}
	return lists, nil
}

func (c *Client) CreateTaskList(ctx context.Context, name, color string) (*Result, error) {
	var res Result
	err := c.postJSON(ctx, "create_task_list.php", map[string]any{"name": name, "color": color}, &res)
	return &res, err
}

func (c *Client) UpdateTaskList(ctx context.Context, id ID, name, color string) (*Result, error) {
	var res Result
	err := c.postJSON(ctx, "update_task_list.php", map[string]any{"id": id, "name": name, "color": color}, &res)
	return &res, err
}

func (c *Client) DeleteTaskList(ctx context.Context, id ID) (*Result, error) {
	var res Result
	err := c.postJSON(ctx, "delete_task_list.php", map[string]any{"id": id}, &res)
	return &res, err
}

// Tasks returns the tasks of listID, or every visible task when listID is
// empty.
func (c *Client) Tasks(ctx context.Context, listID ID) ([]Task, error) {
	endpoint := "get_tasks.php"
	if listID != "" {
		endpoint += "?list_id=" + url.QueryEscape(listID.String())
	}
	var tasks []Task
	if err := c.getJSON(ctx, endpoint, "tasks", &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) CreateTask(ctx context.Context, t Task) (*Result, error) {
	var res Result
	err := c.postJSON(ctx, "create_task.php", t, &res)
	return &res, err
}

func (c *Client) UpdateTask(ctx context.Context, t Task) (*Result, error) {
	if t.ID == "" {
		return nil, fmt.Errorf("update_task.php: task id is required")
	}
	var res Result
	err := c.postJSON(ctx, "update_task.php", t, &res)
	return &res, err
}

func (c *Client) ToggleTask(ctx context.Context, id ID, completed bool) (*Result, error) {
	var res Result
	err := c.postJSON(ctx, "toggle_task.php", map[string]any{"id": id, "completed": completed}, &res)
	return &res, err
}

func (c *Client) DeleteTask(ctx context.Context, id ID) (*Result, error) {
	var res Result
	err := c.postJSON(ctx, "delete_task.php", map[string]any{"id": id}, &res)
	return &res, err
}

// DeleteCompletedTasks removes completed tasks of listID, or of every list
// when listID is empty.
func (c *Client) DeleteCompletedTasks(ctx context.Context, listID ID) (*Result, error) {
	var res Result
	err := c.postJSON(ctx, "delete_completed_tasks.php", map[string]any{"list_id": listID}, &res)
	return &res, err
}

func (c *Client) Users(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.getJSON(ctx, "get_all_users.php", "users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) ListShares(ctx context.Context, listID ID) ([]Share, error) {
	var shares []Share
	endpoint := "get_list_shares.php?list_id=" + url.QueryEscape(listID.String())
	if err := c.getJSON(ctx, endpoint, "shares", &shares); err != nil {
		return nil, err
	}
	return shares, nil
}

func (c *Client) ShareTaskList(ctx context.Context, listID, userID ID, permission string) (*Result, error) {
	var res Result
	err := c.postJSON(ctx, "share_task_list.php", map[string]any{
		"list_id":             listID,
		"shared_with_user_id": userID,
		"permission_level":    permission,
	}, &res)
	return &res, err
}

func (c *Client) UnshareTaskList(ctx context.Context, listID, userID ID) (*Result, error) {
	var res Result
	err := c.postJSON(ctx, "unshare_task_list.php", map[string]any{
		"list_id":             listID,
		"shared_with_user_id": userID,
	}, &res)
	return &res, err
}

// UploadTaskImage posts image as the multipart "image" field.
func (c *Client) UploadTaskImage(ctx context.Context, filename string, image io.Reader) (*Upload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("creating multipart field: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		endpoint:    "upload_task_image.php",
		body:        &buf,
		contentType: mw.FormDataContentType(),
	})
	if err != nil {
		return nil, err
	}
	var up Upload
	if err := decodeBody("upload_task_image.php", resp.body, "", &up); err != nil {
		return nil, err
	}
	return &up, nil
}
