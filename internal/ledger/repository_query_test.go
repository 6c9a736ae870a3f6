package ledger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListOrdersQuery(t *testing.T) {
	tests := []struct {
		name      string
		filter    OrderFilter
		wantWhere string
		wantArgs  []any
	}{
		{
			name:     "no filters",
			filter:   OrderFilter{Limit: 100},
			wantArgs: []any{100},
		},
		{
			name:      "code is matched literally",
			filter:    OrderFilter{Code: `ORD_1%`, Limit: 10},
			wantWhere: "WHERE code ILIKE $1 ORDER BY",
			wantArgs:  []any{`%ORD\_1\%%`, 10},
		},
		{
			name:      "code and status",
			filter:    OrderFilter{Code: "0419", Status: StatusPaid, Limit: 5},
			wantWhere: "WHERE code ILIKE $1 AND status = $2 ORDER BY created_at DESC LIMIT $3",
			wantArgs:  []any{"%0419%", "PAID", 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := listOrdersQuery(tt.filter)

			assert.Equal(t, tt.wantArgs, args)
			if tt.wantWhere == "" {
				assert.NotContains(t, query, "WHERE")
				return
			}
			assert.True(t, strings.Contains(query, tt.wantWhere), "query %q lacks %q", query, tt.wantWhere)
		})
	}
}
