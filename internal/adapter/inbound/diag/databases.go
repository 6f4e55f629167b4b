package diag

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/diagscope/diagscope/internal/adapter/outbound/sqlite"
	"github.com/diagscope/diagscope/internal/domain/response"
	"github.com/diagscope/diagscope/internal/domain/session"
)

// DefaultRowLimit applies when the rows request has no limit.
const DefaultRowLimit = 50

type databaseHandlers struct {
	browser *sqlite.Browser
}

func (h databaseHandlers) list() response.Response {
	return response.Try(func(s *session.Params) (response.WireResponse, error) {
		dbs, err := h.browser.Databases(s.Context())
		if err != nil {
			return response.WireResponse{}, databaseError(err)
		}
		return response.JSON(http.StatusOK, dbs), nil
	})
}

func (h databaseHandlers) tables() response.Response {
	return response.Try(func(s *session.Params) (response.WireResponse, error) {
		db := s.Query("db")
		if db == "" {
			return response.WireResponse{}, response.BadRequest("missing db")
		}
		tables, err := h.browser.Tables(s.Context(), db)
		if err != nil {
			return response.WireResponse{}, databaseError(err)
		}
		return response.JSON(http.StatusOK, tables), nil
	})
}

func (h databaseHandlers) rows() response.Response {
	return response.Try(func(s *session.Params) (response.WireResponse, error) {
		db, table := s.Query("db"), s.Query("table")
		if db == "" || table == "" {
			return response.WireResponse{}, response.BadRequest("db and table are required")
		}
		limit, err := intParam(s, "limit", DefaultRowLimit)
		if err != nil {
			return response.WireResponse{}, err
		}
		offset, err := intParam(s, "offset", 0)
		if err != nil {
			return response.WireResponse{}, err
		}

		rs, err := h.browser.Rows(s.Context(), db, table, limit, offset)
		if err != nil {
			return response.WireResponse{}, databaseError(err)
		}
		return response.JSON(http.StatusOK, rs), nil
	})
}

func (h databaseHandlers) query() response.Response {
	return response.Try(func(s *session.Params) (response.WireResponse, error) {
		db, q := s.Query("db"), s.Query("sql")
		if db == "" || q == "" {
			return response.WireResponse{}, response.BadRequest("db and sql are required")
		}
		rs, err := h.browser.Query(s.Context(), db, q)
		if err != nil {
			return response.WireResponse{}, databaseError(err)
		}
		return response.JSON(http.StatusOK, rs), nil
	})
}

func intParam(s *session.Params, name string, fallback int) (int, error) {
	raw := s.Query(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, response.BadRequest("%s must be a non-negative integer", name)
	}
	return n, nil
}

// databaseError maps browser errors to replies. Only refused statements and
// bad names are the caller's fault; anything else is a server-side failure
// whose cause stays out of the body.
func databaseError(err error) error {
	switch {
	case errors.Is(err, sqlite.ErrNotConfigured):
		return &response.StatusError{Status: http.StatusNotFound, Message: "database browser not configured", Err: err}
	case errors.Is(err, sqlite.ErrNotFound):
		return &response.StatusError{Status: http.StatusNotFound, Message: err.Error(), Err: err}
	case errors.Is(err, sqlite.ErrInvalidName), errors.Is(err, sqlite.ErrInvalidQuery):
		return &response.StatusError{Status: http.StatusBadRequest, Message: err.Error(), Err: err}
	default:
		return err
	}
}
