package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Tyrowin/gochat-relay/internal/archive"
	"github.com/Tyrowin/gochat-relay/internal/directory"
)

// RegisterHandler creates a user from {first_name, last_name}.
func RegisterHandler(d *directory.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req registerRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		first, last := strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName)
		if first == "" || last == "" {
			writeError(w, http.StatusBadRequest, "first_name and last_name are required")
			return
		}
		u := d.Add(first, last)
		slog.Info("user registered", "user_id", u.ID)
		writeJSON(w, http.StatusOK, u)
	}
}

// LoginHandler returns the user matching {first_name, last_name}, or 403.
func LoginHandler(d *directory.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req registerRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		u, ok := d.Login(strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName))
		if !ok {
			writeError(w, http.StatusForbidden, "invalid credentials")
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

// UsersHandler lists every registered user.
func UsersHandler(d *directory.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, d.All())
	}
}

// MessagesHandler stores direct messages on POST and returns a conversation
// on GET ?userId1=&userId2=. Both participants must be registered.
func MessagesHandler(a *archive.Archive, d *directory.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			postMessage(w, r, a, d)
		case http.MethodGet:
			getMessages(w, r, a)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func postMessage(w http.ResponseWriter, r *http.Request, a *archive.Archive, d *directory.Directory) {
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	for _, id := range []int{req.SenderID, req.ReceiverID} {
		if _, ok := d.Get(id); !ok {
			writeError(w, http.StatusNotFound, "unknown user "+strconv.Itoa(id))
			return
		}
	}
	msg := a.Append(req.SenderID, req.ReceiverID, req.Content)
	writeJSON(w, http.StatusCreated, msg)
}

func getMessages(w http.ResponseWriter, r *http.Request, a *archive.Archive) {
	q := r.URL.Query()
	id1, err1 := strconv.Atoi(q.Get("userId1"))
	id2, err2 := strconv.Atoi(q.Get("userId2"))
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "userId1 and userId2 must be integers")
		return
	}
	writeJSON(w, http.StatusOK, a.Query(id1, id2))
}
