package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rubiojr/calchat/pkg/credentials"
	"github.com/rubiojr/calchat/pkg/storage"
)

type recorded struct {
	method      string
	path        string
	query       string
	auth        string
	contentType string
	body        string
}

type fakeBackend struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recorded
	handlers map[string]http.HandlerFunc
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{handlers: map[string]http.HandlerFunc{}}
	fb.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fb.mu.Lock()
		fb.requests = append(fb.requests, recorded{
			method:      r.Method,
			path:        strings.TrimPrefix(r.URL.Path, "/api/"),
			query:       r.URL.RawQuery,
			auth:        r.Header.Get("Authorization"),
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
		})
		h := fb.handlers[strings.TrimPrefix(r.URL.Path, "/api/")]
		fb.mu.Unlock()
		if h == nil {
			http.NotFound(w, r)
			return
		}
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		h(w, r)
	}))
	t.Cleanup(fb.Close)
	return fb
}

func (fb *fakeBackend) handle(path string, h http.HandlerFunc) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.handlers[path] = h
}

func (fb *fakeBackend) last() recorded {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.requests[len(fb.requests)-1]
}

func jsonHandler(v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
}

func newTestClient(fb *fakeBackend, cache Cache) *Client {
	return New(Options{
		BaseURL:     fb.URL + "/api/",
		Credentials: credentials.Static("session-token"),
		RateLimit:   1000,
		Burst:       100,
		Cache:       cache,
	})
}

func TestURLStripsLeadingSlash(t *testing.T) {
	c := New(Options{BaseURL: "https://example.com/api/endpoints/"})
	if got := c.URL("/get_tasks.php"); got != "https://example.com/api/endpoints/get_tasks.php" {
		t.Fatalf("URL = %q", got)
	}
	if got := c.URL("chat/pusher_auth.php"); got != "https://example.com/api/endpoints/chat/pusher_auth.php" {
		t.Fatalf("URL = %q", got)
	}
}

func TestTaskListsBearerAndEnvelope(t *testing.T) {
	fb := newFakeBackend(t)
	fb.handle("get_task_lists.php", jsonHandler(map[string]any{
		"success": true,
		"lists": []map[string]any{
			{"id": 3, "name": "Boodschappen", "color": "#ff0000"},
			{"id": "4", "name": "Werk"},
		},
	}))
	c := newTestClient(fb, nil)

	lists, err := c.TaskLists(context.Background())
	if err != nil {
		t.Fatalf("TaskLists: %v", err)
	}
	if len(lists) != 2 || lists[0].ID != "3" || lists[1].ID != "4" {
		t.Fatalf("lists = %+v", lists)
	}
	if got := fb.last().auth; got != "Bearer session-token" {
		t.Fatalf("authorization header = %q", got)
	}
}

func TestTasksBareArrayAndQuery(t *testing.T) {
	fb := newFakeBackend(t)
	fb.handle("get_tasks.php", jsonHandler([]map[string]any{
		{"id": 1, "list_id": 3, "title": "Melk", "completed": "1"},
		{"id": 2, "list_id": 3, "title": "Brood", "completed": 0},
	}))
	c := newTestClient(fb, nil)

	tasks, err := c.Tasks(context.Background(), "3")
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 2 || !bool(tasks[0].Completed) || bool(tasks[1].Completed) {
		t.Fatalf("tasks = %+v", tasks)
	}
	if q := fb.last().query; q != "list_id=3" {
		t.Fatalf("query = %q", q)
	}
}

func TestPostBodiesMatchBackendFields(t *testing.T) {
	fb := newFakeBackend(t)
	fb.handle("share_task_list.php", jsonHandler(map[string]any{"success": true}))
	fb.handle("delete_completed_tasks.php", jsonHandler(map[string]any{"success": true}))
	c := newTestClient(fb, nil)

	if _, err := c.ShareTaskList(context.Background(), "3", "99", "edit"); err != nil {
		t.Fatalf("ShareTaskList: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(fb.last().body), &body); err != nil {
		t.Fatal(err)
	}
	if body["list_id"] != float64(3) || body["shared_with_user_id"] != float64(99) || body["permission_level"] != "edit" {
		t.Fatalf("share body = %v", body)
	}

	if _, err := c.DeleteCompletedTasks(context.Background(), ""); err != nil {
		t.Fatalf("DeleteCompletedTasks: %v", err)
	}
	if got := fb.last().body; !strings.Contains(got, `"list_id":null`) {
		t.Fatalf("delete completed body = %s", got)
	}
}

func TestAPIErrors(t *testing.T) {
	fb := newFakeBackend(t)
	fb.handle("delete_task.php", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid token"}`))
	})
	fb.handle("toggle_task.php", jsonHandler(map[string]any{"success": false, "message": "Task not found"}))
	c := newTestClient(fb, nil)

	_, err := c.DeleteTask(context.Background(), "1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "Invalid token" {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if !IsUnauthorized(err) {
		t.Fatalf("IsUnauthorized = false")
	}

	_, err = c.ToggleTask(context.Background(), "1", true)
	if !errors.As(err, &apiErr) || apiErr.Message != "Task not found" {
		t.Fatalf("expected success=false APIError, got %v", err)
	}
}

func TestMissingCredential(t *testing.T) {
	fb := newFakeBackend(t)
	c := New(Options{BaseURL: fb.URL, Credentials: credentials.Static("")})

	_, err := c.TaskLists(context.Background())
	if !errors.Is(err, credentials.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

func TestNetworkFirstCacheFallback(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "calchat.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	fb := newFakeBackend(t)
	fb.handle("get_all_users.php", jsonHandler(map[string]any{
		"users": []map[string]any{{"id": 42, "name": "Anna"}},
	}))
	c := newTestClient(fb, store)

	users, err := c.Users(context.Background())
	if err != nil || len(users) != 1 {
		t.Fatalf("online Users: %v %v", users, err)
	}

	// A reachable backend returning an error must not be masked by the cache.
	fb.handle("get_all_users.php", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	if _, err := c.Users(context.Background()); err == nil {
		t.Fatalf("expected HTTP error to surface")
	}

	fb.Close()
	users, err = c.Users(context.Background())
	if err != nil {
		t.Fatalf("offline Users: %v", err)
	}
	if len(users) != 1 || users[0].ID != "42" || users[0].Name != "Anna" {
		t.Fatalf("cached users = %+v", users)
	}
}

func TestChannelAuthorizerForm(t *testing.T) {
	fb := newFakeBackend(t)
	fb.handle("chat/pusher_auth.php", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.PostForm.Get("socket_id") != "123.456" || r.PostForm.Get("channel_name") != "private-conversation-7" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		jsonHandler(map[string]string{"auth": "key:signature"})(w, r)
	})
	c := newTestClient(fb, nil)

	auth, err := c.ChannelAuthorizer("/chat/pusher_auth.php").Authorize(context.Background(), "123.456", "private-conversation-7")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if auth != "key:signature" {
		t.Fatalf("auth = %q", auth)
	}
	if ct := fb.last().contentType; ct != "application/x-www-form-urlencoded" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestPushIdentityTokenRequiresToken(t *testing.T) {
	fb := newFakeBackend(t)
	fb.handle("push/identity_token.php", jsonHandler(map[string]string{}))
	c := newTestClient(fb, nil)

	if _, err := c.PushIdentityToken(context.Background()); err == nil {
		t.Fatalf("expected error for empty token")
	}

	fb.handle("push/identity_token.php", jsonHandler(map[string]string{"token": "jwt"}))
	tok, err := c.PushIdentityToken(context.Background())
	if err != nil || tok != "jwt" {
		t.Fatalf("PushIdentityToken = %q, %v", tok, err)
	}
}

func TestUploadTaskImageMultipart(t *testing.T) {
	fb := newFakeBackend(t)
	fb.handle("upload_task_image.php", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("image")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer func() { _ = f.Close() }()
		data, _ := io.ReadAll(f)
		jsonHandler(map[string]any{"success": true, "url": "/uploads/" + hdr.Filename, "filename": string(data)})(w, r)
	})
	c := newTestClient(fb, nil)

	up, err := c.UploadTaskImage(context.Background(), "/tmp/photo.png", strings.NewReader("pngdata"))
	if err != nil {
		t.Fatalf("UploadTaskImage: %v", err)
	}
	if up.URL != "/uploads/photo.png" || up.Filename != "pngdata" {
		t.Fatalf("upload = %+v", up)
	}
}
