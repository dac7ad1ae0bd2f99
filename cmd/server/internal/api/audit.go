package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/eln-editsession/cmd/server/internal/audit"
	"github.com/houzhh15/eln-editsession/pkg/logger"
)

// AuditReader 读取审计日志
type AuditReader interface {
	GetAuditLogs(startDate, endDate time.Time, resourceID string) ([]audit.AuditEntry, error)
}

const maxAuditDays = 90

// HandleDocumentAudit GET /api/v1/documents/:id/audit?days=7
// 返回文档最近 days 天的审计记录
func HandleDocumentAudit(reader AuditReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := 7
		if raw := c.Query("days"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 1 || v > maxAuditDays {
				badRequestResponse(c, "days must be between 1 and 90")
				return
			}
			days = v
		}

		end := time.Now().UTC()
		entries, err := reader.GetAuditLogs(end.AddDate(0, 0, -(days-1)), end, c.Param("id"))
		if err != nil {
			logger.OrDefault().Error("audit read failed", "document_id", c.Param("id"), "error", err)
			errorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read audit log")
			return
		}
		if entries == nil {
			entries = []audit.AuditEntry{}
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}
