package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"semaforo/internal/models"
)

// Response is the envelope of every API reply
type Response struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data,omitempty"`
}

// Meta carries the status of a reply
type Meta struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Success replies 200 with data
func Success(c *gin.Context, data any) {
	respond(c, http.StatusOK, "OK", data)
}

// Created replies 201 with data
func Created(c *gin.Context, data any) {
	respond(c, http.StatusCreated, "Created", data)
}

// Error replies with an empty payload
func Error(c *gin.Context, status int, message string) {
	respond(c, status, message, nil)
}

// FromError maps an error kind to its status code
func FromError(c *gin.Context, err error) {
	Error(c, StatusOf(err), err.Error())
}

// StatusOf maps the error kinds of the core to HTTP status codes
func StatusOf(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConfig):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Response{
		Meta: Meta{Code: status, Message: message},
		Data: data,
	})
}
