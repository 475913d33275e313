package interfaces

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagFilter_UnmarshalShapes(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   *TagFilter
		active bool
	}{
		{"absent", `{}`, nil, false},
		{"null", `{"tagFilter":null}`, nil, false},
		{"any", `{"tagFilter":"any"}`, &TagFilter{Any: true}, true},
		{"single", `{"tagFilter":"lateral"}`, &TagFilter{Tags: []string{"lateral"}}, true},
		{"list", `{"tagFilter":["a","b"]}`, &TagFilter{Tags: []string{"a", "b"}}, true},
		{"empty list", `{"tagFilter":[]}`, &TagFilter{Tags: []string{}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req QueryRequest
			require.NoError(t, json.Unmarshal([]byte(tt.in), &req))
			assert.Equal(t, tt.want, req.TagFilter)
			assert.Equal(t, tt.active, req.TagFilter.Active())
		})
	}
}

func TestTagFilter_RejectsObjects(t *testing.T) {
	var req QueryRequest
	require.Error(t, json.Unmarshal([]byte(`{"tagFilter":{"x":1}}`), &req))
}

func TestSessionState_QueryRequest(t *testing.T) {
	st := SessionState{
		SortColumn:         "time",
		SearchTerm:         "evil",
		ShowBookmarkedOnly: true,
		ColumnFilters:      map[string]string{"user": "adm"},
	}
	req := st.QueryRequest()
	assert.Equal(t, "time", req.SortColumn)
	assert.Equal(t, "evil", req.SearchTerm)
	assert.True(t, req.BookmarkedOnly)
	assert.Equal(t, "adm", req.ColumnFilters["user"])
}
