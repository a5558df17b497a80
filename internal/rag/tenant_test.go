package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTenant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tenant  string
		wantErr bool
	}{
		{name: "simple", tenant: "user1"},
		{name: "full charset", tenant: "a b@c.d-e_f9"},
		{name: "single char", tenant: "a"},
		{name: "max length", tenant: strings.Repeat("a", 56)},
		{name: "empty", tenant: "", wantErr: true},
		{name: "too long", tenant: strings.Repeat("a", 57), wantErr: true},
		{name: "trailing space", tenant: "user ", wantErr: true},
		{name: "trailing dot", tenant: "user.", wantErr: true},
		{name: "trailing dash", tenant: "user-", wantErr: true},
		{name: "slash", tenant: "user/1", wantErr: true},
		{name: "unicode", tenant: "usér", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateTenant(tt.tenant)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTenant)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCollectionName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		tenant string
		want   string
	}{
		{name: "plain", tenant: "user1", want: "Vector_user1"},
		{name: "space replaced", tenant: "user 1", want: "Vector_user_1"},
		{name: "specials replaced", tenant: "a@b.c-d", want: "Vector_a_b_c_d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := CollectionName(tt.tenant)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			// Cached lookups must return the same name.
			again, err := CollectionName(tt.tenant)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestCollectionNameInvalidTenant(t *testing.T) {
	t.Parallel()

	_, err := CollectionName("bad/tenant")
	assert.ErrorIs(t, err, ErrInvalidTenant)
}
