package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"zigbee-go-converters/internal/automation"
)

// inlineScriptID runs the posted lua_code instead of a stored script.
const inlineScriptID = "_inline"

type scriptView struct {
	*automation.Script
	Running bool `json:"running"`
}

// scriptRequest is the body of create and update calls. Update leaves
// omitted fields unchanged.
type scriptRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	LuaCode     *string `json:"lua_code"`
	Enabled     *bool   `json:"enabled"`
}

func (req scriptRequest) apply(s *automation.Script) {
	if req.Name != nil {
		s.Meta.Name = *req.Name
	}
	if req.Description != nil {
		s.Meta.Description = *req.Description
	}
	if req.LuaCode != nil {
		s.LuaCode = *req.LuaCode
	}
	if req.Enabled != nil {
		s.Meta.Enabled = *req.Enabled
	}
}

// automationEnabled writes 503 and returns false when no engine is wired.
func (s *Server) automationEnabled(w http.ResponseWriter) bool {
	if s.scriptMgr == nil || s.autoEngine == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "automations not available"})
		return false
	}
	return true
}

func (s *Server) decodeScriptRequest(w http.ResponseWriter, r *http.Request) (scriptRequest, bool) {
	var req scriptRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return req, false
	}
	if req.LuaCode != nil {
		if err := automation.CheckSyntax(*req.LuaCode); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return req, false
		}
	}
	return req, true
}

func (s *Server) scriptError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, automation.ErrScriptNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
		return
	}
	s.logger.Error(op, "err", err)
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

// syncEngine brings the engine in line with the stored script state.
func (s *Server) syncEngine(sc *automation.Script) {
	if !sc.Meta.Enabled {
		s.autoEngine.StopScript(sc.ID)
		return
	}
	if err := s.autoEngine.ReloadScript(sc.ID); err != nil {
		s.logger.Error("reload script", "id", sc.ID, "err", err)
	}
}

func (s *Server) handleAPIListAutomations(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusOK, []scriptView{})
		return
	}
	scripts, err := s.scriptMgr.List()
	if err != nil {
		s.scriptError(w, "list scripts", err)
		return
	}
	out := make([]scriptView, 0, len(scripts))
	for _, sc := range scripts {
		out = append(out, scriptView{Script: sc, Running: s.autoEngine != nil && s.autoEngine.Running(sc.ID)})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIGetAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationEnabled(w) {
		return
	}
	sc, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.scriptError(w, "get script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, scriptView{Script: sc, Running: s.autoEngine.Running(sc.ID)})
}

func (s *Server) handleAPICreateAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationEnabled(w) {
		return
	}
	req, ok := s.decodeScriptRequest(w, r)
	if !ok {
		return
	}
	if req.Name == nil || *req.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	sc := &automation.Script{}
	req.apply(sc)
	saved, err := s.scriptMgr.Save(sc)
	if err != nil {
		s.scriptError(w, "create script", err)
		return
	}
	s.syncEngine(saved)
	s.writeJSON(w, http.StatusCreated, scriptView{Script: saved, Running: s.autoEngine.Running(saved.ID)})
}

func (s *Server) handleAPIUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationEnabled(w) {
		return
	}
	existing, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.scriptError(w, "get script", err)
		return
	}
	req, ok := s.decodeScriptRequest(w, r)
	if !ok {
		return
	}
	if req.Name != nil && *req.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name must not be empty"})
		return
	}

	req.apply(existing)
	saved, err := s.scriptMgr.Save(existing)
	if err != nil {
		s.scriptError(w, "update script", err)
		return
	}
	s.syncEngine(saved)
	s.writeJSON(w, http.StatusOK, scriptView{Script: saved, Running: s.autoEngine.Running(saved.ID)})
}

func (s *Server) handleAPIDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationEnabled(w) {
		return
	}
	id := r.PathValue("id")
	s.autoEngine.StopScript(id)
	if err := s.scriptMgr.Delete(id); err != nil {
		s.scriptError(w, "delete script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIToggleAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationEnabled(w) {
		return
	}
	sc, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.scriptError(w, "get script", err)
		return
	}
	sc.Meta.Enabled = !sc.Meta.Enabled
	saved, err := s.scriptMgr.Save(sc)
	if err != nil {
		s.scriptError(w, "toggle script", err)
		return
	}
	s.syncEngine(saved)
	s.writeJSON(w, http.StatusOK, scriptView{Script: saved, Running: s.autoEngine.Running(saved.ID)})
}

func (s *Server) handleAPIRunAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationEnabled(w) {
		return
	}
	id := r.PathValue("id")
	if id != inlineScriptID {
		if _, err := s.scriptMgr.Get(id); err != nil {
			s.scriptError(w, "get script", err)
			return
		}
		s.writeJSON(w, http.StatusOK, s.autoEngine.RunScript(id))
		return
	}

	var req struct {
		LuaCode string `json:"lua_code"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunLuaCode(req.LuaCode))
}
