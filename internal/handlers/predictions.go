package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/example/medical-ai/internal/usecase"
)

type predictForm struct {
	File      *multipart.FileHeader `form:"file" binding:"required"`
	UserName  string                `form:"user_name" binding:"max=255"`
	UserEmail string                `form:"user_email"`
}

type listParams struct {
	Skip  *int   `form:"skip" binding:"omitempty,min=0"`
	Limit *int   `form:"limit"`
	Email string `form:"email"`
}

func (h *Handler) predict(c *gin.Context) {
	if h.opts.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes+multipartOverhead)
	}

	var form predictForm
	if err := c.ShouldBindWith(&form, binding.FormMultipart); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			badRequest(c, h.sizeMessage())
			return
		}
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			badRequest(c, "file is required")
			return
		}
		badRequest(c, bindingMessage(err))
		return
	}
	// Blank emails count as absent.
	form.UserEmail = strings.TrimSpace(form.UserEmail)
	if form.UserEmail != "" {
		if err := validate.Var(form.UserEmail, "email"); err != nil {
			badRequest(c, "user_email must be a valid email address")
			return
		}
	}
	if h.opts.MaxUploadBytes > 0 && form.File.Size > h.opts.MaxUploadBytes {
		badRequest(c, h.sizeMessage())
		return
	}

	src, err := form.File.Open()
	if err != nil {
		badRequest(c, "unable to open file")
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		h.fail(c, fmt.Errorf("read upload: %w", err))
		return
	}

	prediction, err := h.predictions.Predict(c.Request.Context(), usecase.PredictInput{
		Image:     data,
		UserName:  form.UserName,
		UserEmail: form.UserEmail,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, prediction)
}

func (h *Handler) sizeMessage() string {
	return fmt.Sprintf("file exceeds the %d byte limit", h.opts.MaxUploadBytes)
}

func (h *Handler) listPredictions(c *gin.Context) {
	h.list(c, "")
}

func (h *Handler) listUserPredictions(c *gin.Context) {
	h.list(c, c.Param("email"))
}

func (h *Handler) list(c *gin.Context, pathEmail string) {
	var params listParams
	if err := c.ShouldBindQuery(&params); err != nil {
		badRequest(c, listParamsMessage(err))
		return
	}

	q := usecase.ListQuery{Email: params.Email, Limit: usecase.DefaultLimit}
	if pathEmail != "" {
		q.Email = pathEmail
	}
	if params.Skip != nil {
		q.Skip = *params.Skip
	}
	if params.Limit != nil {
		q.Limit = *params.Limit
	}

	predictions, err := h.predictions.List(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, predictions)
}

// listParamsMessage reports which pagination parameter failed to parse.
func listParamsMessage(err error) string {
	msg := bindingMessage(err)
	if msg != "invalid request" {
		if msg == "skip must be at least 0" {
			return "skip must be a non-negative integer"
		}
		return msg
	}
	return "skip and limit must be integers"
}

func (h *Handler) predictionImage(c *gin.Context) {
	obj, err := h.predictions.Image(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	defer obj.Close()

	c.Header("Content-Type", obj.ContentType)
	http.ServeContent(c.Writer, c.Request, obj.Name, obj.ModTime, obj)
}
