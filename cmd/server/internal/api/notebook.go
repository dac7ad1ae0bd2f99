package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/eln-editsession/cmd/server/internal/domain/notebook"
	"github.com/houzhh15/eln-editsession/pkg/editsession"
	"github.com/houzhh15/eln-editsession/pkg/logger"
)

// RegisterNotebookRoutes 注册文档编辑 API 路由
func RegisterNotebookRoutes(router *gin.RouterGroup, svc *notebook.Service) {
	docs := router.Group("/documents")
	{
		docs.POST("", handleCreateDocument(svc))
		docs.GET("/:id", handleGetDocument(svc))
		docs.POST("/:id/edit-lock", handleRequestEditLock(svc))
		docs.GET("/:id/fields", handleFetchFields(svc))
		docs.POST("/:id/fields", handleAddField(svc))
		docs.POST("/:id/save", handleSave(svc))
		docs.POST("/:id/unlock", handleUnlock(svc))
	}

	fields := router.Group("/fields")
	{
		fields.PUT("/:fid/autosave", handleAutosaveField(svc))
		fields.DELETE("/:fid", handleDeleteField(svc))
	}
}

// handleCreateDocument POST /documents - 创建文档
func handleCreateDocument(svc *notebook.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req notebook.CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequestResponse(c, "invalid request body")
			return
		}
		view, err := svc.CreateDocument(c.Request.Context(), currentUser(c), req)
		if err != nil {
			handleNotebookError(c, err)
			return
		}
		c.JSON(http.StatusCreated, view)
	}
}

// handleGetDocument GET /documents/:id - 获取文档及字段
func handleGetDocument(svc *notebook.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := svc.GetDocument(c.Request.Context(), currentUser(c), c.Param("id"))
		if err != nil {
			handleNotebookError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// handleRequestEditLock POST /documents/:id/edit-lock - 申请编辑锁
func handleRequestEditLock(svc *notebook.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := svc.RequestEdit(c.Request.Context(), currentUser(c), c.Param("id"))
		if err != nil {
			handleNotebookError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleFetchFields GET /documents/:id/fields?since= - 增量拉取字段
func handleFetchFields(svc *notebook.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var since int64
		if raw := c.Query("since"); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || v < 0 {
				badRequestResponse(c, "since must be a non-negative integer")
				return
			}
			since = v
		}
		fields, err := svc.FetchFields(c.Request.Context(), currentUser(c), c.Param("id"), since)
		if err != nil {
			handleNotebookError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"fields": fields})
	}
}

// handleAutosaveField PUT /fields/:fid/autosave - 自动保存单个字段
func handleAutosaveField(svc *notebook.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Kind  editsession.FieldKind `json:"kind"`
			Value string                `json:"value"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequestResponse(c, "invalid request body")
			return
		}
		resp, err := svc.AutosaveField(c.Request.Context(), currentUser(c), c.Param("fid"), req.Kind, req.Value)
		if err != nil {
			handleNotebookError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleSave POST /documents/:id/save - 正式保存
func handleSave(svc *notebook.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Unlock bool `json:"unlock"`
		}
		// 允许空请求体
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequestResponse(c, "invalid request body")
				return
			}
		}
		resp, err := svc.Save(c.Request.Context(), currentUser(c), c.Param("id"), req.Unlock)
		if err != nil {
			handleNotebookError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleUnlock POST /documents/:id/unlock - 释放编辑锁
func handleUnlock(svc *notebook.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Unlock(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
			handleNotebookError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// handleAddField POST /documents/:id/fields - 追加字段
func handleAddField(svc *notebook.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var spec notebook.FieldSpec
		if err := c.ShouldBindJSON(&spec); err != nil {
			badRequestResponse(c, "invalid request body")
			return
		}
		f, err := svc.AddField(c.Request.Context(), currentUser(c), c.Param("id"), spec)
		if err != nil {
			handleNotebookError(c, err)
			return
		}
		c.JSON(http.StatusCreated, f)
	}
}

// handleDeleteField DELETE /fields/:fid - 删除字段
func handleDeleteField(svc *notebook.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DeleteField(c.Request.Context(), currentUser(c), c.Param("fid")); err != nil {
			handleNotebookError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// handleNotebookError 将 notebook 错误映射为 HTTP 状态码
func handleNotebookError(c *gin.Context, err error) {
	var nbe *notebook.NotebookError
	if errors.As(err, &nbe) {
		switch nbe.Code {
		case notebook.ErrCodeInvalidInput:
			errorResponse(c, http.StatusBadRequest, nbe.Code, nbe.Message)
		case notebook.ErrCodeDocNotFound, notebook.ErrCodeFieldNotFound:
			errorResponse(c, http.StatusNotFound, nbe.Code, nbe.Message)
		case notebook.ErrCodeLockNotHeld:
			errorResponse(c, http.StatusConflict, nbe.Code, nbe.Message)
		case notebook.ErrCodeForbidden:
			errorResponse(c, http.StatusForbidden, nbe.Code, nbe.Message)
		default:
			logger.OrDefault().Error("notebook request failed", "path", c.FullPath(), "error", err)
			errorResponse(c, http.StatusInternalServerError, nbe.Code, nbe.Message)
		}
		return
	}

	logger.OrDefault().Error("notebook request failed", "path", c.FullPath(), "error", err)
	errorResponse(c, http.StatusInternalServerError, notebook.ErrCodeInternalError, "internal error")
}
