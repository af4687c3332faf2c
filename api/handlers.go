package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/recollectco/recollect/pkg/ledger"
	"github.com/recollectco/recollect/pkg/utils"
)

// previewLen caps memory content in list responses; the full content is
// available from the single-memory endpoint.
const previewLen = 200

// ErrorResponse is the JSON error body returned by all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MemoryResponse is one ledger memory row.
type MemoryResponse struct {
	ID        uuid.UUID      `json:"id"`
	AppID     uuid.UUID      `json:"app_id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	State     ledger.State   `json:"state"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	DeletedAt *string        `json:"deleted_at,omitempty"`
}

// HistoryEntry is one state-transition record. OldState is null for memories
// that did not previously exist in the ledger.
type HistoryEntry struct {
	ID        uuid.UUID     `json:"id"`
	MemoryID  uuid.UUID     `json:"memory_id"`
	ChangedBy uuid.UUID     `json:"changed_by"`
	OldState  *ledger.State `json:"old_state"`
	NewState  ledger.State  `json:"new_state"`
	ChangedAt string        `json:"changed_at"`
}

// AccessLogEntry is one read-access record.
type AccessLogEntry struct {
	ID         uuid.UUID      `json:"id"`
	MemoryID   uuid.UUID      `json:"memory_id"`
	AppID      uuid.UUID      `json:"app_id"`
	AccessType string         `json:"access_type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// AppResponse is one registered client application.
type AppResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	OwnerID   uuid.UUID `json:"owner_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt string    `json:"created_at"`
}

// CreateRuleRequest is the body for POST /apps/:app_id/rules.
type CreateRuleRequest struct {
	Effect   string `json:"effect"`
	MemoryID string `json:"memory_id,omitempty"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleListMemories returns all ledger rows owned by the given user, with
// content truncated to a preview.
func (s *Server) handleListMemories(c *fiber.Ctx) error {
	user, err := s.storer.UserByExternalID(c.Context(), c.Params("user_id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "user not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to look up user"})
	}

	mems, err := s.storer.MemoriesForUser(c.Context(), user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list memories"})
	}

	out := make([]MemoryResponse, 0, len(mems))
	for _, m := range mems {
		r := memoryResponse(m)
		r.Content = utils.Truncate(r.Content, previewLen)
		out = append(out, r)
	}

	return c.JSON(map[string]any{
		"count":    len(out),
		"memories": out,
	})
}

// handleGetMemory returns a single ledger row, untruncated.
func (s *Server) handleGetMemory(c *fiber.Ctx) error {
	user, memID, ok, errResp := s.resolveMemoryParams(c)
	if !ok {
		return errResp
	}

	mem, err := s.storer.Memory(c.Context(), memID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "memory not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to get memory"})
	}
	if mem.UserID != user.ID {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "memory not found"})
	}

	return c.JSON(memoryResponse(mem))
}

// handleGetHistory returns the full state-transition history for a memory.
func (s *Server) handleGetHistory(c *fiber.Ctx) error {
	user, memID, ok, errResp := s.resolveMemoryParams(c)
	if !ok {
		return errResp
	}

	mem, err := s.storer.Memory(c.Context(), memID)
	if err != nil || mem.UserID != user.ID {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "memory not found"})
	}

	history, err := s.storer.HistoryForMemory(c.Context(), memID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to get history"})
	}

	out := make([]HistoryEntry, 0, len(history))
	for _, h := range history {
		out = append(out, HistoryEntry{
			ID:        h.ID,
			MemoryID:  h.MemoryID,
			ChangedBy: h.ChangedBy,
			OldState:  h.OldState,
			NewState:  h.NewState,
			ChangedAt: h.ChangedAt.Format(timeFormat),
		})
	}

	return c.JSON(map[string]any{
		"memory_id": memID,
		"count":     len(out),
		"history":   out,
	})
}

// handleListAccessLogs returns the read-access audit trail for a user.
func (s *Server) handleListAccessLogs(c *fiber.Ctx) error {
	user, err := s.storer.UserByExternalID(c.Context(), c.Params("user_id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "user not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to look up user"})
	}

	logs, err := s.storer.AccessLogsForUser(c.Context(), user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list access logs"})
	}

	out := make([]AccessLogEntry, 0, len(logs))
	for _, l := range logs {
		out = append(out, AccessLogEntry{
			ID:         l.ID,
			MemoryID:   l.MemoryID,
			AppID:      l.AppID,
			AccessType: l.AccessType,
			Metadata:   l.Metadata,
			CreatedAt:  l.CreatedAt.Format(timeFormat),
		})
	}

	return c.JSON(map[string]any{
		"count": len(out),
		"logs":  out,
	})
}

// handleListApps returns all registered client applications.
func (s *Server) handleListApps(c *fiber.Ctx) error {
	apps, err := s.storer.Apps(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list apps"})
	}

	out := make([]AppResponse, 0, len(apps))
	for _, a := range apps {
		out = append(out, AppResponse{
			ID:        a.ID,
			Name:      a.Name,
			OwnerID:   a.OwnerID,
			IsActive:  a.IsActive,
			CreatedAt: a.CreatedAt.Format(timeFormat),
		})
	}

	return c.JSON(map[string]any{
		"count": len(out),
		"apps":  out,
	})
}

// handlePauseApp marks an app inactive; its mutating tool calls are rejected
// until resumed.
func (s *Server) handlePauseApp(c *fiber.Ctx) error {
	return s.setAppActive(c, false)
}

// handleResumeApp marks an app active again.
func (s *Server) handleResumeApp(c *fiber.Ctx) error {
	return s.setAppActive(c, true)
}

func (s *Server) setAppActive(c *fiber.Ctx, active bool) error {
	appID, err := uuid.Parse(c.Params("app_id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid app id"})
	}

	if err := s.storer.SetAppActive(c.Context(), appID, active); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "app not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to update app"})
	}

	s.logger.Info("updated app state",
		zap.String("app_id", appID.String()),
		zap.Bool("active", active),
	)

	return c.JSON(map[string]any{
		"app_id":    appID,
		"is_active": active,
	})
}

// handleCreateRule records an allow or deny rule for an app, optionally
// scoped to a single memory.
func (s *Server) handleCreateRule(c *fiber.Ctx) error {
	appID, err := uuid.Parse(c.Params("app_id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid app id"})
	}

	var req CreateRuleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	effect := ledger.RuleEffect(req.Effect)
	if effect != ledger.EffectAllow && effect != ledger.EffectDeny {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "effect must be allow or deny"})
	}

	rule := &ledger.AccessRule{
		AppID:  appID,
		Effect: effect,
	}
	if req.MemoryID != "" {
		memID, err := uuid.Parse(req.MemoryID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid memory id"})
		}
		rule.MemoryID = &memID
	}

	if err := s.storer.PutAccessRule(c.Context(), rule); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to create rule"})
	}

	return c.Status(fiber.StatusCreated).JSON(map[string]any{
		"rule_id": rule.ID,
	})
}

const timeFormat = "2006-01-02T15:04:05.999999Z07:00"

// resolveMemoryParams parses the user and memory route parameters shared by
// the single-memory endpoints. When ok is false the error response has
// already been written and the returned error is the write result.
func (s *Server) resolveMemoryParams(c *fiber.Ctx) (user *ledger.User, memID uuid.UUID, ok bool, err error) {
	user, err = s.storer.UserByExternalID(c.Context(), c.Params("user_id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, uuid.Nil, false, c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "user not found"})
		}
		return nil, uuid.Nil, false, c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to look up user"})
	}

	memID, err = uuid.Parse(c.Params("memory_id"))
	if err != nil {
		return nil, uuid.Nil, false, c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid memory id"})
	}

	return user, memID, true, nil
}

func memoryResponse(m *ledger.Memory) MemoryResponse {
	r := MemoryResponse{
		ID:        m.ID,
		AppID:     m.AppID,
		Content:   m.Content,
		Metadata:  m.Metadata,
		State:     m.State,
		CreatedAt: m.CreatedAt.Format(timeFormat),
		UpdatedAt: m.UpdatedAt.Format(timeFormat),
	}
	if m.DeletedAt != nil {
		deleted := m.DeletedAt.Format(timeFormat)
		r.DeletedAt = &deleted
	}
	return r
}
