package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"campusevents/internal/attendance"
	"campusevents/internal/auth"
)

// ---------- Attendance ----------

// InitAttendance classifies the event and stores its config on first call.
func (h *Handler) InitAttendance(c *gin.Context) {
	cfg, err := h.attendance.InitializeAttendance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) GetConfig(c *gin.Context) {
	cfg, err := h.attendance.Config(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) UpdateConfig(c *gin.Context) {
	var upd attendance.ConfigUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, err)
		return
	}
	cfg, err := h.attendance.UpdateConfig(c.Request.Context(), c.Param("id"), upd)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type strategyRequest struct {
	Strategy string `json:"strategy" binding:"required"`
}

func (h *Handler) OverrideStrategy(c *gin.Context) {
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := parseStrategy(req.Strategy)
	if err != nil {
		h.fail(c, err)
		return
	}
	cfg, err := h.attendance.OverrideStrategy(c.Request.Context(), c.Param("id"), st)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type markRequest struct {
	StudentID    string            `json:"student_id"`
	CheckpointID string            `json:"checkpoint_id"`
	Metadata     map[string]string `json:"metadata"`
}

// Mark completes a checkpoint. Students mark themselves; organizers may mark
// anyone. An empty checkpoint_id picks the checkpoint open right now.
func (h *Handler) Mark(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	studentID, ok := h.studentFor(c, req.StudentID)
	if !ok {
		return
	}
	res, err := h.attendance.Mark(c.Request.Context(), c.Param("id"), studentID, req.CheckpointID, req.Metadata)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// StudentStatus returns one student's breakdown.
func (h *Handler) StudentStatus(c *gin.Context) {
	studentID, ok := h.studentFor(c, c.Param("student_id"))
	if !ok {
		return
	}
	rep, err := h.attendance.GetStatus(c.Request.Context(), c.Param("id"), studentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// Roster returns every student's breakdown for an event.
func (h *Handler) Roster(c *gin.Context) {
	reps, err := h.attendance.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": reps})
}

// studentFor resolves whose record a request touches. Students are pinned to
// their own subject.
func (h *Handler) studentFor(c *gin.Context, requested string) (string, bool) {
	claims, _ := auth.ClaimsFrom(c)
	if claims.Role == auth.RoleStudent {
		if requested != "" && requested != claims.Subject {
			c.JSON(http.StatusForbidden, gin.H{"error": "students may only act on their own attendance"})
			return "", false
		}
		return claims.Subject, true
	}
	if requested == "" {
		badRequest(c, errors.New("student_id required"))
		return "", false
	}
	return requested, true
}
