package rest

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/feral-file/passport-ledger/internal/api/shared/constants"
)

// JournalQueryParams holds query parameters for GET /journal
type JournalQueryParams struct {
	After    uint64  `form:"after,default=0"`
	Limit    int     `form:"limit,default=100"`
	RecordID *uint64 `form:"record_id"`
}

// Validate validates the journal query
func (p *JournalQueryParams) Validate() error {
	if p.Limit < 1 || p.Limit > constants.MAX_JOURNAL_LIMIT {
		return fmt.Errorf("limit must be between 1 and %d", constants.MAX_JOURNAL_LIMIT)
	}
	return nil
}

// ParseJournalQuery parses the journal query parameters
func ParseJournalQuery(c *gin.Context) (*JournalQueryParams, error) {
	var params JournalQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		return nil, err
	}
	return &params, nil
}

// parseIDParam parses a positive numeric path parameter
func parseIDParam(c *gin.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return id, nil
}

// queryOrCaller returns the identity named by the query parameter, the caller when it is absent
func queryOrCaller(c *gin.Context, name string, caller string) string {
	if value := c.Query(name); value != "" {
		return value
	}
	return caller
}
