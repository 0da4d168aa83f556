package model

import "testing"

func TestListOptions_Clamp(t *testing.T) {
	tests := []struct {
		name       string
		input      ListOptions
		wantLimit  int
		wantOffset int
	}{
		{"defaults", ListOptions{Limit: 0, Offset: 0}, 20, 0},
		{"negative limit", ListOptions{Limit: -5, Offset: 0}, 20, 0},
		{"over max", ListOptions{Limit: 200, Offset: 0}, 100, 0},
		{"negative offset", ListOptions{Limit: 10, Offset: -3}, 10, 0},
		{"valid", ListOptions{Limit: 50, Offset: 10}, 50, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.input.Clamp()
			if tt.input.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", tt.input.Limit, tt.wantLimit)
			}
			if tt.input.Offset != tt.wantOffset {
				t.Errorf("Offset = %d, want %d", tt.input.Offset, tt.wantOffset)
			}
		})
	}
}

func TestNewPagination(t *testing.T) {
	tests := []struct {
		total   int
		opts    ListOptions
		hasMore bool
	}{
		{0, ListOptions{Limit: 20}, false},
		{20, ListOptions{Limit: 20}, false},
		{21, ListOptions{Limit: 20}, true},
		{50, ListOptions{Limit: 20, Offset: 40}, false},
		{50, ListOptions{Limit: 10, Offset: 30}, true},
	}
	for _, tt := range tests {
		pg := NewPagination(tt.total, tt.opts)
		if pg.HasMore != tt.hasMore {
			t.Errorf("NewPagination(%d, %+v).HasMore = %v, want %v", tt.total, tt.opts, pg.HasMore, tt.hasMore)
		}
		if pg.Total != tt.total {
			t.Errorf("Total = %d, want %d", pg.Total, tt.total)
		}
	}
}
