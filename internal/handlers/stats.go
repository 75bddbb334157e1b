package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Health(c.Request.Context()))
}

func (h *Handler) summary(c *gin.Context) {
	summary, err := h.stats.GetSummary(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) userSummary(c *gin.Context) {
	summary, err := h.stats.GetUserSummary(c.Request.Context(), c.Param("email"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
