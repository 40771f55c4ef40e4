package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/busybox42/mailfixture/internal/mailhog"
	"github.com/busybox42/mailfixture/internal/store"
	"github.com/gorilla/mux"
	"github.com/microcosm-cc/bluemonday"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 250
)

// Health represents capture server health
type Health struct {
	Status          string    `json:"status"`
	Uptime          int64     `json:"uptime"` // seconds
	UptimeFormatted string    `json:"uptime_formatted"`
	StartedAt       time.Time `json:"started_at"`
	Messages        int       `json:"messages"`
	SMTPAddr        string    `json:"smtp_addr,omitempty"`
	GoVersion       string    `json:"go_version"`
	NumGoroutines   int       `json:"num_goroutines"`
	Version         string    `json:"version,omitempty"`
}

// handleListMessages returns a window of messages, newest first
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	start, err := queryInt(r, "start", 0)
	if err != nil || start < 0 {
		writeError(w, http.StatusBadRequest, "invalid start parameter")
		return
	}
	limit, err := queryInt(r, "limit", defaultPageLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "invalid limit parameter")
		return
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	messages, total, err := s.store.List(r.Context(), start, limit)
	if err != nil {
		s.logger.Error("Failed to list messages", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []*store.Message{}
	}

	writeJSON(w, http.StatusOK, &store.Page{
		Total: total,
		Count: len(messages),
		Start: start,
		Items: messages,
	})
}

// handleGetMessage returns one message
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// handleDownload returns the message as it arrived on the wire
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.lookup(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "message/rfc822")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", msg.ID+".eml"))
	if _, err := w.Write([]byte(msg.Raw.Data)); err != nil {
		s.logger.Warn("Failed to write download", "message_id", msg.ID, "error", err)
	}
}

// handleHTML returns the HTML body of a message
func (s *Server) handleHTML(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.lookup(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(mailhog.HTMLBody(msg))); err != nil {
		s.logger.Warn("Failed to write HTML body", "message_id", msg.ID, "error", err)
	}
}

// previewPolicy keeps the document structure an accessibility review looks
// at and drops scripts, event handlers and unsafe URLs
var previewPolicy = func() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("form", "input", "button", "label")
	p.AllowNoAttrs().OnElements("form", "button", "label")
	p.AllowAttrs("type", "name", "placeholder", "value").OnElements("input", "button")
	p.AllowAttrs("for").OnElements("label")
	p.AllowAttrs("aria-label", "aria-labelledby", "role").Globally()
	return p
}()

// handlePreview returns the HTML body with active content removed, safe to
// render in the web UI
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.lookup(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(previewPolicy.Sanitize(mailhog.HTMLBody(msg)))); err != nil {
		s.logger.Warn("Failed to write preview", "message_id", msg.ID, "error", err)
	}
}

// handleDeleteMessage removes one message
func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		s.logger.Error("Failed to delete message", "message_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}

	s.logger.Info("Message deleted", "message_id", id)
	w.WriteHeader(http.StatusOK)
}

// handleDeleteAll removes every message
func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAll(r.Context()); err != nil {
		s.logger.Error("Failed to delete messages", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete messages")
		return
	}

	s.logger.Info("All messages deleted")
	w.WriteHeader(http.StatusOK)
}

// handleHealth reports uptime and the stored message count
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context())
	if err != nil {
		s.logger.Error("Failed to count messages", "error", err)
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}

	uptime := time.Since(s.startedAt)
	writeJSON(w, http.StatusOK, &Health{
		Status:          "ok",
		Uptime:          int64(uptime.Seconds()),
		UptimeFormatted: uptime.Truncate(time.Second).String(),
		StartedAt:       s.startedAt,
		Messages:        count,
		SMTPAddr:        s.config.SMTPAddr,
		GoVersion:       runtime.Version(),
		NumGoroutines:   runtime.NumGoroutine(),
		Version:         s.config.Version,
	})
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>mailfixture</title>
</head>
<body>
    <h1>Captured messages ({{.Total}})</h1>
    {{if .Items}}
    <table>
        <thead><tr><th>Received</th><th>From</th><th>To</th><th>Subject</th><th>Links</th></tr></thead>
        <tbody>
        {{range .Items}}
        <tr>
            <td>{{.Received.Format "2006-01-02 15:04:05"}}</td>
            <td>{{.From}}</td>
            <td>{{range $i, $to := .To}}{{if $i}}, {{end}}{{$to}}{{end}}</td>
            <td>{{.Subject}}</td>
            <td>
                <a href="/api/v1/messages/{{.ID}}/preview">Preview</a>
                <a href="/api/v1/messages/{{.ID}}/html">HTML</a>
                <a href="/api/v1/messages/{{.ID}}/download">Source</a>
            </td>
        </tr>
        {{end}}
        </tbody>
    </table>
    {{else}}
    <p>No messages yet.</p>
    {{end}}
</body>
</html>
`))

// handleIndex renders the message list as a web page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	messages, total, err := s.store.List(r.Context(), 0, maxPageLimit)
	if err != nil {
		s.logger.Error("Failed to list messages", "error", err)
		http.Error(w, "failed to list messages", http.StatusInternalServerError)
		return
	}

	data := struct {
		Total int
		Items []*mailhog.Summary
	}{Total: total}
	for _, msg := range messages {
		data.Items = append(data.Items, mailhog.Summarize(msg))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.Warn("Failed to render index", "error", err)
	}
}

// lookup loads the message named by the id route variable, answering 404
// when it does not exist
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*store.Message, bool) {
	id := mux.Vars(r)["id"]

	msg, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return nil, false
		}
		s.logger.Error("Failed to load message", "message_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load message")
		return nil, false
	}
	return msg, true
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, fmt.Sprintf("Error encoding JSON: %v", err), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
