package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chunkvault/chunkvault/internal/coordinator"
	"github.com/chunkvault/chunkvault/pkg/types"
)

// statusFromError maps coordinator error kinds to HTTP status codes
func statusFromError(err error) int {
	switch coordinator.KindOf(err) {
	case coordinator.KindNotFound:
		return http.StatusNotFound
	case coordinator.KindExpiredSession:
		return http.StatusGone
	case coordinator.KindInvalidStateTransition, coordinator.KindConcurrencyConflict:
		return http.StatusConflict
	case coordinator.KindValidationFailure:
		return http.StatusBadRequest
	case coordinator.KindStorageBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFromError(err), types.APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

func handleInitiateUpload(svc *coordinator.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.InitiateUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "Invalid request format",
			})
			return
		}

		session, err := svc.CreateSession(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"session_id": session.ID,
			"uploadId":   session.RemoteUploadID,
			"key":        session.StorageKey,
			"chunk_size": session.ChunkSize,
			"expires_at": session.ExpiresAt,
		})
	}
}

func handlePresignedURL(svc *coordinator.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.PresignedURLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "Invalid request format",
			})
			return
		}

		url, err := svc.IssuePartUploadURL(c.Request.Context(), req.SessionID, req.PartNumber)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"url": url})
	}
}

func handlePartComplete(svc *coordinator.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.PartCompleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "Invalid request format",
			})
			return
		}

		part := &types.PartRecord{
			PartNumber: req.PartNumber,
			ETag:       req.ETag,
			Size:       req.Size,
			Checksum:   req.Checksum,
		}

		if _, err := svc.RecordPartComplete(c.Request.Context(), req.SessionID, part); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

func handleCompleteUpload(svc *coordinator.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.CompleteUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "Invalid request format",
			})
			return
		}

		object, err := svc.CompleteUpload(c.Request.Context(), req.SessionID, req.Parts)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":   "completed",
			"location": object.Location,
			"etag":     object.ETag,
		})
	}
}

func handleAbortUpload(svc *coordinator.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.SessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "Invalid request format",
			})
			return
		}

		if _, err := svc.AbortUpload(c.Request.Context(), req.SessionID); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "aborted"})
	}
}

func handlePauseUpload(svc *coordinator.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.SessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "Invalid request format",
			})
			return
		}

		session, err := svc.PauseUpload(c.Request.Context(), req.SessionID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "paused",
			"session": session,
		})
	}
}

func handleResumeUpload(svc *coordinator.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.SessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "Invalid request format",
			})
			return
		}

		session, err := svc.ResumeUpload(c.Request.Context(), req.SessionID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  string(session.Status),
			"session": session,
		})
	}
}

func handleValidateSession(svc *coordinator.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.SessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "Invalid request format",
			})
			return
		}

		report, err := svc.ValidateSession(c.Request.Context(), req.SessionID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, report)
	}
}

func handleGetSession(svc *coordinator.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := svc.GetSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, session)
	}
}

func handleListActiveSessions(svc *coordinator.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := svc.ListActiveSessions(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	}
}
