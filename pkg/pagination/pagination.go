package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 200
)

// Params holds validated pagination parameters.
type Params struct {
	Page  int
	Limit int
}

// Parse reads page and limit from the query string. Garbage falls back to the defaults.
func Parse(c *gin.Context) Params {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	page, limit = Normalize(page, limit)
	return Params{Page: page, Limit: limit}
}

// Normalize clamps values coming from services or tests that bypass Parse.
func Normalize(page, limit int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	return page, min(limit, MaxLimit)
}

func Offset(page, limit int) int {
	page, limit = Normalize(page, limit)
	return (page - 1) * limit
}
