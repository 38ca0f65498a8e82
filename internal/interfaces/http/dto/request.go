package dto

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/BerkeleyLibrary/willa/internal/domain/repository"
)

// BindPagination reads ?page= and ?page_size= with the repository clamps.
func BindPagination(c *gin.Context) repository.Pagination {
	return repository.NewPagination(
		parseIntWithDefault(c.Query("page"), 1),
		parseIntWithDefault(c.Query("page_size"), 20),
	)
}

// BindBool reads a boolean query flag; anything unparsable is false.
func BindBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(c.Query(key)))
	return err == nil && v
}

func parseIntWithDefault(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// IngestRequest is the JSON form of an ingest body. Plain-text bodies are
// accepted as the content itself.
type IngestRequest struct {
	Content string `json:"content"`
	Force   bool   `json:"force"`
}

type CreateSessionRequest struct {
	Title string `json:"title" binding:"max=255"`
}

type AnswerRequest struct {
	Query string `json:"query" binding:"required,max=4000"`
}
