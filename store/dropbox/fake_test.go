// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package dropbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sketchroom/sketchroom/lib/secret"
	"github.com/sketchroom/sketchroom/store"
)

// fakeDropbox serves the Dropbox endpoints the client uses, backed by
// a store.Memory.
type fakeDropbox struct {
	backend *store.Memory
	token   string
	server  *httptest.Server

	mu sync.Mutex
	// backoff is returned from every long poll, in seconds.
	backoff int
	// pageSize splits list_folder/continue results when positive.
	pageSize int
	pages    map[string]pendingPage
	nextPage int
	// sharedIDs maps folder path to shared_folder_id.
	sharedIDs map[string]string
}

type pendingPage struct {
	entries []store.Entry
	cursor  string
}

func newFakeDropbox(t *testing.T) *fakeDropbox {
	t.Helper()
	fake := &fakeDropbox{
		backend:   store.NewMemory(store.MemoryOptions{}),
		token:     "sl.test-token",
		pages:     make(map[string]pendingPage),
		sharedIDs: make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /2/files/upload", fake.authenticated(fake.upload))
	mux.HandleFunc("POST /2/files/download", fake.authenticated(fake.download))
	mux.HandleFunc("POST /2/files/list_folder/get_latest_cursor", fake.authenticated(fake.latestCursor))
	mux.HandleFunc("POST /2/files/list_folder/continue", fake.authenticated(fake.listContinue))
	mux.HandleFunc("POST /2/files/list_folder/longpoll", fake.longPoll)
	mux.HandleFunc("POST /2/files/create_folder_v2", fake.authenticated(fake.createFolder))
	mux.HandleFunc("POST /2/sharing/share_folder", fake.authenticated(fake.shareFolder))
	mux.HandleFunc("POST /2/sharing/add_folder_member", fake.authenticated(fake.addFolderMember))
	fake.server = httptest.NewServer(mux)
	t.Cleanup(fake.server.Close)
	return fake
}

// client returns a Client pointed at the fake with the given token.
func (f *fakeDropbox) client(t *testing.T, token string) *Client {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(token))
	if err != nil {
		t.Fatalf("secret.NewFromBytes: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	client, err := New(Config{
		APIURL:     f.server.URL,
		ContentURL: f.server.URL,
		NotifyURL:  f.server.URL + "/",
		Token:      buffer,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func (f *fakeDropbox) authenticated(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+f.token {
			http.Error(w, "Error in call to API function: Invalid authorization value", http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}
}

func (f *fakeDropbox) upload(w http.ResponseWriter, r *http.Request) {
	var arg struct {
		Path string          `json:"path"`
		Mode json.RawMessage `json:"mode"`
	}
	if err := json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &arg); err != nil {
		http.Error(w, "bad Dropbox-API-Arg", http.StatusBadRequest)
		return
	}
	var precondition store.Precondition
	var tag string
	if json.Unmarshal(arg.Mode, &tag) != nil {
		var update struct {
			Tag    string `json:".tag"`
			Update string `json:"update"`
		}
		if err := json.Unmarshal(arg.Mode, &update); err != nil || update.Tag != "update" {
			http.Error(w, "bad mode", http.StatusBadRequest)
			return
		}
		precondition = store.IfRevision(update.Update)
	} else if tag == "overwrite" {
		precondition = store.Always()
	}

	data, _ := io.ReadAll(r.Body)
	revision, err := f.backend.Upload(r.Context(), arg.Path, data, precondition)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, fileMetadata(arg.Path, revision))
}

func (f *fakeDropbox) download(w http.ResponseWriter, r *http.Request) {
	var arg struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &arg); err != nil {
		http.Error(w, "bad Dropbox-API-Arg", http.StatusBadRequest)
		return
	}
	object, err := f.backend.Download(r.Context(), arg.Path)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	result, _ := json.Marshal(fileMetadata(arg.Path, object.Revision))
	w.Header().Set("Dropbox-API-Result", string(result))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(object.Data)
}

func (f *fakeDropbox) latestCursor(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
	}
	if !readJSON(w, r, &request) {
		return
	}
	if !request.Recursive {
		http.Error(w, "fake only serves recursive cursors", http.StatusBadRequest)
		return
	}
	cursor, err := f.backend.LatestCursor(r.Context(), request.Path)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]string{"cursor": cursor})
}

func (f *fakeDropbox) listContinue(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Cursor string `json:"cursor"`
	}
	if !readJSON(w, r, &request) {
		return
	}

	f.mu.Lock()
	page, paged := f.pages[request.Cursor]
	delete(f.pages, request.Cursor)
	f.mu.Unlock()

	if !paged {
		entries, cursor, err := f.backend.ListChanges(r.Context(), request.Cursor)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		page = pendingPage{entries: entries, cursor: cursor}
	}

	f.mu.Lock()
	entries, cursor, hasMore := page.entries, page.cursor, false
	if f.pageSize > 0 && len(entries) > f.pageSize {
		f.nextPage++
		token := fmt.Sprintf("fakepage-%d", f.nextPage)
		f.pages[token] = pendingPage{entries: entries[f.pageSize:], cursor: page.cursor}
		entries, cursor, hasMore = entries[:f.pageSize], token, true
	}
	f.mu.Unlock()

	wire := make([]map[string]string, len(entries))
	for i, entry := range entries {
		wire[i] = map[string]string{
			".tag":         string(entry.Kind),
			"path_lower":   strings.ToLower(entry.Path),
			"path_display": entry.Path,
		}
		if entry.Kind == store.KindFile {
			wire[i]["rev"] = entry.Revision
		}
	}
	writeJSON(w, map[string]any{"entries": wire, "cursor": cursor, "has_more": hasMore})
}

func (f *fakeDropbox) longPoll(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "" {
		http.Error(w, "Error in call to API function: Unexpected Authorization header", http.StatusBadRequest)
		return
	}
	var request struct {
		Cursor  string `json:"cursor"`
		Timeout int    `json:"timeout"`
	}
	if !readJSON(w, r, &request) {
		return
	}
	if request.Timeout < 30 || request.Timeout > 480 {
		http.Error(w, "timeout out of range", http.StatusBadRequest)
		return
	}
	result, err := f.backend.LongPoll(r.Context(), request.Cursor, time.Duration(request.Timeout)*time.Second)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	response := map[string]any{"changes": result.Changed}
	f.mu.Lock()
	if f.backoff > 0 {
		response["backoff"] = f.backoff
	}
	f.mu.Unlock()
	writeJSON(w, response)
}

func (f *fakeDropbox) createFolder(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Path string `json:"path"`
	}
	if !readJSON(w, r, &request) {
		return
	}
	if err := f.backend.CreateFolder(r.Context(), request.Path); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"metadata": map[string]string{
		"name":       request.Path[strings.LastIndex(request.Path, "/")+1:],
		"path_lower": strings.ToLower(request.Path),
	}})
}

func (f *fakeDropbox) shareFolder(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Path string `json:"path"`
	}
	if !readJSON(w, r, &request) {
		return
	}
	folder := store.Clean(request.Path)
	err := f.backend.ShareFolder(r.Context(), folder, nil)
	f.mu.Lock()
	id, ok := f.sharedIDs[folder]
	if !ok {
		id = fmt.Sprintf("%d", 1000+len(f.sharedIDs))
		f.sharedIDs[folder] = id
	}
	f.mu.Unlock()
	switch {
	case errors.Is(err, store.ErrAlreadyShared):
		writeAPIError(w, "bad_path/already_shared/..", map[string]any{
			".tag": "bad_path",
			"bad_path": map[string]any{
				".tag":           "already_shared",
				"already_shared": map[string]string{"shared_folder_id": id, "path_lower": strings.ToLower(folder)},
			},
		})
	case errors.Is(err, store.ErrNotFound):
		writeAPIError(w, "bad_path/not_found/..", map[string]any{".tag": "bad_path"})
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, map[string]string{".tag": "complete", "shared_folder_id": id, "path_lower": strings.ToLower(folder)})
	}
}

func (f *fakeDropbox) addFolderMember(w http.ResponseWriter, r *http.Request) {
	var request struct {
		SharedFolderID string `json:"shared_folder_id"`
		Members        []struct {
			Member struct {
				Tag   string `json:".tag"`
				Email string `json:"email"`
			} `json:"member"`
		} `json:"members"`
	}
	if !readJSON(w, r, &request) {
		return
	}
	f.mu.Lock()
	var folder string
	for path, id := range f.sharedIDs {
		if id == request.SharedFolderID {
			folder = path
		}
	}
	f.mu.Unlock()
	if folder == "" {
		writeAPIError(w, "invalid_dropbox_id/..", map[string]any{".tag": "invalid_dropbox_id"})
		return
	}
	var emails []string
	for _, member := range request.Members {
		emails = append(emails, member.Member.Email)
	}
	// The folder is already marked shared; this only records members.
	_ = f.backend.ShareFolder(r.Context(), folder, emails)
	w.Write([]byte("null"))
}

func fileMetadata(path, revision string) map[string]string {
	return map[string]string{
		".tag":         "file",
		"path_lower":   strings.ToLower(store.Clean(path)),
		"path_display": store.Clean(path),
		"rev":          revision,
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		http.Error(w, "bad request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(value)
}

func writeAPIError(w http.ResponseWriter, summary string, detail any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	json.NewEncoder(w).Encode(map[string]any{"error_summary": summary, "error": detail})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrConflict):
		writeAPIError(w, "path/conflict/file/..", map[string]any{".tag": "path"})
	case errors.Is(err, store.ErrAlreadyExists):
		writeAPIError(w, "path/conflict/folder/..", map[string]any{".tag": "path"})
	case errors.Is(err, store.ErrNotFound):
		writeAPIError(w, "path/not_found/..", map[string]any{".tag": "path"})
	case errors.Is(err, store.ErrCursorReset):
		writeAPIError(w, "reset/..", map[string]any{".tag": "reset"})
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
