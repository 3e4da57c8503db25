package web

import (
	"errors"
	"net/http"

	"znp-host/internal/automation"
)

func (s *Server) scriptsEnabled(w http.ResponseWriter) bool {
	if s.scripts == nil || s.engine == nil {
		s.writeError(w, http.StatusNotFound, "automation not enabled")
		return false
	}
	return true
}

func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsEnabled(w) {
		return
	}
	scripts, err := s.scripts.List()
	if err != nil {
		s.logger.Error("list scripts", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, scripts)
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsEnabled(w) {
		return
	}
	script, err := s.scripts.Get(r.PathValue("id"))
	if err != nil {
		s.writeScriptError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, script)
}

type saveScriptRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Code        string `json:"code"`
	Enabled     bool   `json:"enabled"`
}

func (req saveScriptRequest) apply(sc *automation.Script) {
	sc.Meta = automation.ScriptMeta{Name: req.Name, Description: req.Description, Enabled: req.Enabled}
	sc.Code = req.Code
}

func (s *Server) handleCreateScript(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsEnabled(w) {
		return
	}
	var req saveScriptRequest
	if err := decodeBody(w, r, &req); err != nil || req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	script := &automation.Script{}
	req.apply(script)
	s.saveScript(w, script, http.StatusCreated)
}

func (s *Server) handleUpdateScript(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsEnabled(w) {
		return
	}
	script, err := s.scripts.Get(r.PathValue("id"))
	if err != nil {
		s.writeScriptError(w, err)
		return
	}
	var req saveScriptRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.apply(script)
	s.saveScript(w, script, http.StatusOK)
}

// saveScript writes the script and restarts it. A script that fails to
// start is still saved; the start error is returned alongside it.
func (s *Server) saveScript(w http.ResponseWriter, script *automation.Script, status int) {
	saved, err := s.scripts.Save(script)
	if err != nil {
		s.logger.Error("save script", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	out := map[string]any{"script": saved}
	if err := s.engine.ReloadScript(saved.ID); err != nil {
		s.logger.Warn("reload script", "id", saved.ID, "err", err)
		out["error"] = err.Error()
	}
	s.writeJSON(w, status, out)
}

func (s *Server) handleDeleteScript(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsEnabled(w) {
		return
	}
	id := r.PathValue("id")
	s.engine.StopScript(id)
	if err := s.scripts.Delete(id); err != nil {
		s.writeScriptError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRunScript(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsEnabled(w) {
		return
	}
	if _, err := s.scripts.Get(r.PathValue("id")); err != nil {
		s.writeScriptError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.RunScript(r.PathValue("id")))
}

func (s *Server) handleRunCode(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsEnabled(w) {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.RunLuaCode(req.Code))
}

func (s *Server) writeScriptError(w http.ResponseWriter, err error) {
	if errors.Is(err, automation.ErrScriptNotFound) {
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	}
	s.writeError(w, http.StatusBadRequest, err.Error())
}
