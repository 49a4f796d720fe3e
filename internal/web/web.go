// Package web is the HTTP+JSON boundary over a serve session: info,
// read, long-poll subscribe, write, and open-in-editor.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/grove-sync/grove/api"
	"github.com/grove-sync/grove/internal/patch"
	"github.com/grove-sync/grove/internal/queue"
	"github.com/grove-sync/grove/internal/session"
	"github.com/grove-sync/grove/internal/snapshot"
	"github.com/grove-sync/grove/internal/tree"
)

// maxSubscribeWait bounds how long a subscribe request may hang
// before the server answers with an empty batch list.
const maxSubscribeWait = 60 * time.Second

// Server serves a single session over HTTP.
type Server struct {
	session *session.ServeSession
	logger  hclog.Logger
}

// NewServer wraps a session.
func NewServer(s *session.ServeSession, logger hclog.Logger) *Server {
	return &Server{
		session: s,
		logger:  logger.Named("web"),
	}
}

// Handler returns the API routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("GET /api/read/{ids}", s.handleRead)
	mux.HandleFunc("GET /api/subscribe/{cursor}", s.handleSubscribe)
	mux.HandleFunc("POST /api/write", s.handleWrite)
	mux.HandleFunc("POST /api/open/{id}", s.handleOpen)
	return mux
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := s.session.Info()
	writeJSON(w, http.StatusOK, api.InfoResponse{
		SessionID:   info.SessionID,
		ProjectName: info.ProjectName,
		RootRef:     string(info.RootRef),
		Version:     info.Version,
	})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	ids := strings.Split(r.PathValue("ids"), ",")
	refs := make([]tree.Ref, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			refs = append(refs, tree.Ref(id))
		}
	}

	found, missing := s.session.Read(refs)
	resp := api.ReadResponse{
		SessionID: s.session.Info().SessionID,
		Instances: make(map[string]api.InstanceView, len(found)),
	}
	for ref, inst := range found {
		resp.Instances[string(ref)] = viewOf(inst)
	}
	for _, ref := range missing {
		resp.Missing = append(resp.Missing, string(ref))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	cursor, err := strconv.ParseUint(r.PathValue("cursor"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "badRequest", "cursor must be a non-negative integer")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), maxSubscribeWait)
	defer cancel()

	entries, high, resynced, err := s.session.Subscribe(ctx, cursor)
	if err != nil {
		if errors.Is(err, queue.ErrSessionTerminated) {
			s.writeError(w, http.StatusServiceUnavailable, "sessionTerminated", err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	resp := api.SubscribeResponse{
		SessionID: s.session.Info().SessionID,
		Cursor:    high,
		Resynced:  resynced,
		Messages:  make([]api.PatchMessage, 0, len(entries)),
	}
	for _, entry := range entries {
		resp.Messages = append(resp.Messages, messageOf(entry))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req api.WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "badRequest", err.Error())
		return
	}
	info := s.session.Info()
	if req.SessionID != "" && req.SessionID != info.SessionID {
		s.writeError(w, http.StatusConflict, "sessionMismatch", "write targets a different session")
		return
	}

	set := patch.Set{}
	for _, id := range req.Removed {
		set.Removed = append(set.Removed, tree.Ref(id))
	}
	for _, add := range req.Added {
		index := -1
		if add.Index != nil {
			index = *add.Index
		}
		set.Added = append(set.Added, patch.Added{
			Parent:   tree.Ref(add.Parent),
			Index:    index,
			Snapshot: add.Snapshot,
		})
	}
	for _, upd := range req.Updated {
		set.Updated = append(set.Updated, patch.Updated{
			Ref:               tree.Ref(upd.Ref),
			ChangedName:       upd.ChangedName,
			ChangedClassName:  upd.ChangedClassName,
			ChangedProperties: upd.ChangedProperties,
		})
	}

	cursor, err := s.session.Write(set)
	if err != nil {
		if errors.Is(err, patch.ErrBatchInvalid) {
			s.writeError(w, http.StatusUnprocessableEntity, "batchInvalid", err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.WriteResponse{SessionID: info.SessionID, Cursor: cursor})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	ref := tree.Ref(r.PathValue("id"))
	p, err := s.session.OpenPath(ref)
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "notFound", err.Error())
			return
		}
		s.writeError(w, http.StatusUnprocessableEntity, "noPath", err.Error())
		return
	}

	if editor := os.Getenv("EDITOR"); editor != "" {
		cmd := exec.Command(editor, p)
		if err := cmd.Start(); err != nil {
			s.logger.Error("launch editor", "editor", editor, "error", err)
		} else {
			go func() { _ = cmd.Wait() }()
		}
	}

	writeJSON(w, http.StatusOK, api.OpenResponse{
		SessionID: s.session.Info().SessionID,
		Path:      p,
	})
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, api.ErrorResponse{
		SessionID: s.session.Info().SessionID,
		Kind:      kind,
		Error:     msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func viewOf(inst tree.Instance) api.InstanceView {
	view := api.InstanceView{
		Ref:        string(inst.Ref),
		ClassName:  inst.ClassName,
		Name:       inst.Name,
		Properties: inst.Properties,
		SourcePath: inst.Meta.SourcePath,
		Error:      inst.Meta.Error,
	}
	if inst.Parent != tree.NilRef {
		view.Parent = string(inst.Parent)
	}
	for _, child := range inst.Children {
		view.Children = append(view.Children, string(child))
	}
	return view
}

func messageOf(entry queue.Entry) api.PatchMessage {
	msg := api.PatchMessage{Cursor: entry.Cursor}
	for _, ref := range entry.Patch.Removed {
		msg.Removed = append(msg.Removed, string(ref))
	}
	if len(entry.Patch.Added) > 0 {
		msg.Added = make(map[string]api.InstanceView, len(entry.Patch.Added))
		for ref, inst := range entry.Patch.Added {
			msg.Added[string(ref)] = viewOf(inst)
		}
	}
	for _, upd := range entry.Patch.Updated {
		changed := make(map[string]*snapshot.Value, len(upd.ChangedProperties))
		for k, v := range upd.ChangedProperties {
			changed[k] = v
		}
		msg.Updated = append(msg.Updated, api.UpdatedView{
			Ref:               string(upd.Ref),
			ChangedName:       upd.ChangedName,
			ChangedClassName:  upd.ChangedClassName,
			ChangedProperties: changed,
		})
	}
	return msg
}
