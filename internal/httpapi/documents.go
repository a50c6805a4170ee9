package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lattice-editor/server/internal/apperror"
	"github.com/lattice-editor/server/internal/documents"
)

type documentSummaryPayload struct {
	DocumentID  string `json:"document_id"`
	Title       string `json:"title"`
	Role        string `json:"role"`
	ShareStatus string `json:"share_status"`
	UpdatedAt   int64  `json:"updated_at_s"`
}

func (h *Handler) handleListDocuments(c *gin.Context) {
	userID, ok := callerUserID(c)
	if !ok {
		writeError(c, apperror.Unauthenticated("missing caller identity"))
		return
	}

	summaries, err := h.documents.ListFor(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	payload := make([]documentSummaryPayload, 0, len(summaries))
	for _, summary := range summaries {
		payload = append(payload, documentSummaryPayload{
			DocumentID:  summary.Document.DocumentID,
			Title:       summary.Document.Title,
			Role:        string(summary.Role),
			ShareStatus: summary.Document.ShareStatus,
			UpdatedAt:   summary.Document.UpdatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"documents": payload})
}

type createDocumentRequest struct {
	Title          string `json:"title"`
	InitialContent string `json:"initialContent"`
}

type createDocumentResponse struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
}

func (h *Handler) handleCreateDocument(c *gin.Context) {
	userID, ok := callerUserID(c)
	if !ok {
		writeError(c, apperror.Unauthenticated("missing caller identity"))
		return
	}

	var request createDocumentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeError(c, apperror.ValidationFailed("title", "request body must be valid JSON"))
		return
	}

	document, err := h.documents.Create(c.Request.Context(), userID, request.Title)
	if err != nil {
		writeError(c, err)
		return
	}

	documentID := documents.DocumentID(document.DocumentID)
	if request.InitialContent != "" {
		updateB64 := base64.StdEncoding.EncodeToString([]byte(request.InitialContent))
		if _, err := h.updateLog.Append(c.Request.Context(), documentID, userID.String(), updateB64); err != nil {
			writeError(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, createDocumentResponse{DocumentID: document.DocumentID, Title: document.Title})
}

type shareLinkRequest struct {
	Mode string `json:"mode"`
}

type shareLinkResponse struct {
	Token       string `json:"token"`
	ShareStatus string `json:"shareStatus"`
}

func (h *Handler) handleShareLink(c *gin.Context) {
	userID, ok := callerUserID(c)
	if !ok {
		writeError(c, apperror.Unauthenticated("missing caller identity"))
		return
	}

	documentID, err := documents.NewDocumentID(c.Param("id"))
	if err != nil {
		writeError(c, apperror.ValidationFailed("id", "invalid document id"))
		return
	}

	var request shareLinkRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeError(c, apperror.ValidationFailed("mode", "request body must be valid JSON"))
		return
	}
	mode, err := documents.NewShareMode(request.Mode)
	if err != nil {
		writeError(c, apperror.ValidationFailed("mode", "mode must be \"view\" or \"edit\""))
		return
	}

	token, err := h.documents.RotateShareLink(c.Request.Context(), userID, documentID, mode)
	if err != nil {
		writeError(c, err)
		return
	}

	shareStatus := string(documents.ShareStatusPublicView)
	if mode == documents.ShareModeEdit {
		shareStatus = string(documents.ShareStatusPublicEdit)
	}
	c.JSON(http.StatusOK, shareLinkResponse{Token: token, ShareStatus: shareStatus})
}

type folderPayload struct {
	FolderID string `json:"folder_id"`
	Name     string `json:"name"`
}

func (h *Handler) handleListFolders(c *gin.Context) {
	userID, ok := callerUserID(c)
	if !ok {
		writeError(c, apperror.Unauthenticated("missing caller identity"))
		return
	}

	folders, err := h.documents.ListFolders(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	payload := make([]folderPayload, 0, len(folders))
	for _, folder := range folders {
		payload = append(payload, folderPayload{FolderID: folder.FolderID, Name: folder.Name})
	}
	c.JSON(http.StatusOK, gin.H{"folders": payload})
}

type createFolderRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleCreateFolder(c *gin.Context) {
	userID, ok := callerUserID(c)
	if !ok {
		writeError(c, apperror.Unauthenticated("missing caller identity"))
		return
	}

	var request createFolderRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeError(c, apperror.ValidationFailed("name", "request body must be valid JSON"))
		return
	}

	folder, err := h.documents.CreateFolder(c.Request.Context(), userID, request.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, folderPayload{FolderID: folder.FolderID, Name: folder.Name})
}

func (h *Handler) handleAssignDocumentToFolder(c *gin.Context) {
	userID, ok := callerUserID(c)
	if !ok {
		writeError(c, apperror.Unauthenticated("missing caller identity"))
		return
	}

	documentID, err := documents.NewDocumentID(c.Param("id"))
	if err != nil {
		writeError(c, apperror.ValidationFailed("id", "invalid document id"))
		return
	}
	folderID := c.Param("folder_id")

	if err := h.documents.AssignDocumentToFolder(c.Request.Context(), userID, documentID, folderID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
