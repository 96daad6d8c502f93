// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package repair

import (
	"errors"
	"slices"
	"testing"

	"github.com/tomtom215/propfix/internal/config"
	"github.com/tomtom215/propfix/internal/models"
)

func TestSelectScopes(t *testing.T) {
	tests := []struct {
		name    string
		sel     config.ScopeConfig
		want    []int64
		wantErr bool
	}{
		{name: "explicit ids sorted and deduplicated", sel: config.ScopeConfig{IDs: []int64{3, 1, 3}}, want: []int64{1, 3}},
		{name: "range", sel: config.ScopeConfig{Min: 2, Max: 5}, want: []int64{2, 3, 4, 5}},
		{name: "range with include and exclude", sel: config.ScopeConfig{Min: 1, Max: 3, Include: []int64{9}, Exclude: []int64{2}}, want: []int64{1, 3, 9}},
		{name: "exclude from ids", sel: config.ScopeConfig{IDs: []int64{1, 2}, Exclude: []int64{1}}, want: []int64{2}},
		{name: "single scope range", sel: config.ScopeConfig{Min: 7, Max: 7}, want: []int64{7}},
		{name: "empty", sel: config.ScopeConfig{}, wantErr: true},
		{name: "everything excluded", sel: config.ScopeConfig{IDs: []int64{1}, Exclude: []int64{1}}, wantErr: true},
		{name: "ids and range", sel: config.ScopeConfig{IDs: []int64{1}, Min: 1, Max: 2}, wantErr: true},
		{name: "inverted range", sel: config.ScopeConfig{Min: 5, Max: 2}, wantErr: true},
		{name: "range too large", sel: config.ScopeConfig{Min: 1, Max: MaxScopeRange + 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectScopes(tt.sel)
			if tt.wantErr {
				if !errors.Is(err, models.ErrValidation) {
					t.Fatalf("err = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectScopes: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("scopes = %v, want %v", got, tt.want)
			}
		})
	}
}
