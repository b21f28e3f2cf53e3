package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterSpecNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   FilterSpec
		want FilterSpec
	}{
		{
			name: "zero count gets default",
			in:   FilterSpec{},
			want: FilterSpec{Count: 10},
		},
		{
			name: "negative count gets default",
			in:   FilterSpec{Count: -5},
			want: FilterSpec{Count: 10},
		},
		{
			name: "count capped at max",
			in:   FilterSpec{Count: 500},
			want: FilterSpec{Count: 50},
		},
		{
			name: "valid count untouched",
			in:   FilterSpec{Count: 7},
			want: FilterSpec{Count: 7},
		},
		{
			name: "inverted years swapped",
			in:   FilterSpec{Count: 5, YearFrom: 2020, YearTo: 1990},
			want: FilterSpec{Count: 5, YearFrom: 1990, YearTo: 2020},
		},
		{
			name: "open year range kept",
			in:   FilterSpec{Count: 5, YearFrom: 2000},
			want: FilterSpec{Count: 5, YearFrom: 2000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize(10, 50)
			assert.Equal(t, tt.want.Count, got.Count)
			assert.Equal(t, tt.want.YearFrom, got.YearFrom)
			assert.Equal(t, tt.want.YearTo, got.YearTo)
		})
	}
}
