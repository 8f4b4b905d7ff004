package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ashureev/codecollab/internal/auth"
	"github.com/ashureev/codecollab/internal/domain"
	"github.com/ashureev/codecollab/internal/filetree"
	"github.com/ashureev/codecollab/internal/gateway"
	"github.com/ashureev/codecollab/internal/room"
	"github.com/ashureev/codecollab/internal/runner"
	"github.com/go-chi/chi/v5"
)

const maxSaveBodyBytes = 16 << 20

// runLocks prevents concurrent run requests for the same project. Entries
// live for the life of the process so every request for a project contends
// on the same mutex.
var runLocks sync.Map

// ProjectHandler handles project file-tree and run endpoints.
type ProjectHandler struct {
	*Handler
}

// NewProjectHandler creates a new project handler.
func NewProjectHandler(base *Handler) *ProjectHandler {
	return &ProjectHandler{Handler: base}
}

// RegisterRoutes registers project routes. Callers must install auth
// middleware on r.
func (h *ProjectHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/projects/{projectId}", func(r chi.Router) {
		r.Get("/file-tree", h.GetFileTree)
		r.Put("/file-tree", h.SaveFileTree)
		r.Get("/run", h.RunStatus)
		r.Post("/run", h.Run)
		r.Post("/stop", h.Stop)
	})
}

// loadProject resolves the project in the URL and checks the caller may
// access it. It writes the error response itself.
func (h *ProjectHandler) loadProject(w http.ResponseWriter, r *http.Request) (*domain.Project, domain.Identity, bool) {
	projectID := chi.URLParam(r, "projectId")
	if !gateway.ValidProjectID(projectID) {
		Error(w, http.StatusBadRequest, "invalid project id")
		return nil, domain.Identity{}, false
	}

	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, domain.Identity{}, false
	}

	project, err := h.repo.FindProject(r.Context(), projectID)
	if err != nil {
		slog.Error("Failed to load project", "project_id", projectID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load project")
		return nil, domain.Identity{}, false
	}
	if project == nil {
		Error(w, http.StatusNotFound, "project not found")
		return nil, domain.Identity{}, false
	}
	if len(project.Users) > 0 && !project.HasMember(id.Email) && !project.HasMember(id.Subject) {
		Error(w, http.StatusForbidden, "not a collaborator on this project")
		return nil, domain.Identity{}, false
	}
	return project, id, true
}

type fileTreeResponse struct {
	ProjectID string            `json:"projectId"`
	FileTree  filetree.Tree     `json:"fileTree"`
	Versions  filetree.Versions `json:"versions,omitempty"`
	Live      bool              `json:"live"`
}

// GetFileTree returns the live room tree, or the stored tree when nobody is
// connected.
func (h *ProjectHandler) GetFileTree(w http.ResponseWriter, r *http.Request) {
	project, _, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	if rm, live := h.rooms.Room(project.RoomID()); live {
		tree, versions := rm.Files().Snapshot()
		JSON(w, http.StatusOK, fileTreeResponse{ProjectID: project.ID, FileTree: tree, Versions: versions, Live: true})
		return
	}

	tree := filetree.Tree(project.FileTree)
	if tree == nil {
		tree = filetree.Tree{}
	}
	JSON(w, http.StatusOK, fileTreeResponse{ProjectID: project.ID, FileTree: tree})
}

type saveRequest struct {
	FileTree filetree.Tree `json:"fileTree"`
}

// SaveFileTree persists the project tree. A body tree is merged into the
// live room first and broadcast to its participants; without a body the
// current live tree is saved.
func (h *ProjectHandler) SaveFileTree(w http.ResponseWriter, r *http.Request) {
	project, id, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	var req saveRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSaveBodyBytes))
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			Error(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	rm, live := h.rooms.Room(project.RoomID())
	var toSave filetree.Tree
	switch {
	case live:
		if len(req.FileTree) > 0 {
			versions := rm.Files().Apply(req.FileTree)
			h.broadcastUpdate(project.RoomID(), req.FileTree, versions, id.Email)
		}
		toSave, _ = rm.Files().Snapshot()
	case req.FileTree != nil:
		toSave = req.FileTree
	default:
		Error(w, http.StatusConflict, "no live session and no fileTree in request")
		return
	}

	if err := h.repo.SaveFileTree(r.Context(), project.ID, toSave); err != nil {
		slog.Error("Failed to save file tree", "project_id", project.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save file tree")
		return
	}

	slog.Info("File tree saved", "project_id", project.ID, "email", id.Email, "files", len(toSave), "live", live)
	JSON(w, http.StatusOK, map[string]any{
		"status": "saved",
		"files":  len(toSave),
		"live":   live,
	})
}

func (h *ProjectHandler) broadcastUpdate(roomID string, delta filetree.Tree, versions filetree.Versions, sender string) {
	frame, err := domain.NewFrame(domain.EventFileTreeUpdate, map[string]any{
		"fileTree": delta,
		"versions": versions,
		"sender":   sender,
	})
	if err != nil {
		slog.Error("Failed to encode file tree update", "room_id", roomID, "error", err)
		return
	}
	if _, err := h.rooms.Broadcast(roomID, frame, ""); err != nil && !errors.Is(err, room.ErrRoomNotFound) {
		slog.Warn("Failed to broadcast saved tree", "room_id", roomID, "error", err)
	}
}

// RunStatus reports the project's active run.
func (h *ProjectHandler) RunStatus(w http.ResponseWriter, r *http.Request) {
	project, _, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	run, running := h.runs.Status(project.RoomID())
	JSON(w, http.StatusOK, map[string]any{
		"enabled": h.runs.Enabled(),
		"running": running,
		"run":     run,
	})
}

// Run starts the project's current live tree, replacing its previous run.
func (h *ProjectHandler) Run(w http.ResponseWriter, r *http.Request) {
	project, id, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	lock, _ := runLocks.LoadOrStore(project.ID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		slog.Warn("Run already in progress", "project_id", project.ID)
		Error(w, http.StatusConflict, "run_in_progress")
		return
	}
	defer mutex.Unlock()

	run, err := h.runs.Start(r.Context(), project.RoomID())
	if err != nil {
		writeRunError(w, project.ID, err)
		return
	}

	slog.Info("Project run started", "project_id", project.ID, "email", id.Email, "container_id", run.ContainerID)
	JSON(w, http.StatusOK, map[string]any{
		"status": "running",
		"run":    run,
	})
}

// Stop stops the project's active run.
func (h *ProjectHandler) Stop(w http.ResponseWriter, r *http.Request) {
	project, _, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	if err := h.runs.Stop(r.Context(), project.RoomID()); err != nil {
		writeRunError(w, project.ID, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func writeRunError(w http.ResponseWriter, projectID string, err error) {
	switch {
	case errors.Is(err, runner.ErrDisabled):
		Error(w, http.StatusServiceUnavailable, "runner disabled")
	case errors.Is(err, room.ErrRoomNotFound):
		Error(w, http.StatusConflict, "no active session for project")
	case errors.Is(err, runner.ErrNoFiles):
		Error(w, http.StatusUnprocessableEntity, "project has no files")
	case errors.Is(err, runner.ErrNotRunning):
		Error(w, http.StatusNotFound, "no active run")
	default:
		slog.Error("Run request failed", "project_id", projectID, "error", err)
		Error(w, http.StatusInternalServerError, "run failed")
	}
}
