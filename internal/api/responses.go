package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// ListResponse wraps list payloads with their count
type ListResponse struct {
	Data  interface{} `json:"data"`
	Count int         `json:"count"`
}

// PaginationParams holds pagination parameters from request
type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePaginationParams extracts limit/offset from the query string
func ParsePaginationParams(c echo.Context) *PaginationParams {
	params := &PaginationParams{Limit: 50, Offset: 0}

	if limit := c.QueryParam("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 && l <= 200 {
			params.Limit = l
		}
	}

	if offset := c.QueryParam("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o >= 0 {
			params.Offset = o
		}
	}

	return params
}

// SuccessList returns a 200 OK list response
func SuccessList(c echo.Context, data interface{}, count int) error {
	return c.JSON(http.StatusOK, &ListResponse{Data: data, Count: count})
}

// SuccessCreated returns a 201 Created response
func SuccessCreated(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, data)
}

// SuccessOK returns a 200 OK response
func SuccessOK(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, data)
}

// SuccessAccepted returns a 202 Accepted response
func SuccessAccepted(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusAccepted, data)
}
