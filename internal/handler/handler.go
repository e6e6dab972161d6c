package handler

import (
	"net/http"
	"strconv"
	"time"

	"ecorder/internal/domain/model"
	"ecorder/internal/middleware"
	"ecorder/internal/repository"
	"ecorder/internal/usecase"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}
	if he, ok := usecase.AsHTTPError(err); ok {
		return c.JSON(he.Status, ErrorResponse{Error: he.Message})
	}

	//500
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

// AuthJWTが解決した呼び出し元
func identityFromContext(c echo.Context) (usecase.Identity, bool) {
	return middleware.IdentityFrom(c)
}

func parseIDParam(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// 一覧のクエリ（page/limit/status/sort/from/to/user_id）
// 不正な値はメッセージを返す
func parseOrderQuery(c echo.Context) (repository.OrderQuery, string) {
	q := repository.OrderQuery{IncludeItems: true}

	if v := c.QueryParam("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return q, "invalid page"
		}
		q.Page = p
	}

	if v := c.QueryParam("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil {
			return q, "invalid limit"
		}
		q.Limit = l
	}

	if v := c.QueryParam("status"); v != "" {
		st, err := model.ParseOrderStatus(v)
		if err != nil {
			return q, "invalid status"
		}
		q.Filter.Status = st
	}

	if v := c.QueryParam("sort"); v != "" {
		switch v {
		case repository.OrderSortNewest, repository.OrderSortOldest, repository.OrderSortTotalDesc, repository.OrderSortTotalAsc:
			q.Sort = v
		default:
			return q, "invalid sort"
		}
	}

	if v := c.QueryParam("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return q, "invalid user_id"
		}
		q.Filter.UserID = &id
	}

	if v := c.QueryParam("from"); v != "" {
		tm, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, "invalid from"
		}
		q.Filter.From = &tm
	}

	if v := c.QueryParam("to"); v != "" {
		tm, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, "invalid to"
		}
		q.Filter.To = &tm
	}

	if c.QueryParam("include_items") == "false" {
		q.IncludeItems = false
	}

	return q, ""
}
