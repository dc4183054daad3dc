package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAdID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    int64
		wantErr bool
	}{
		{name: "plain id", payload: "42", want: 42},
		{name: "surrounding whitespace", payload: " 7\n", want: 7},
		{name: "letters", payload: "abc", wantErr: true},
		{name: "empty", payload: "", wantErr: true},
		{name: "zero", payload: "0", wantErr: true},
		{name: "negative", payload: "-3", wantErr: true},
		{name: "decimal", payload: "1.5", wantErr: true},
		{name: "overflow", payload: "99999999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAdID(tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, FormatAdID(tt.want), FormatAdID(got))
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "invalid payload", err: fmt.Errorf("wrap: %w", ErrInvalidPayload), want: true},
		{name: "ad not found", err: ErrAdNotFound, want: true},
		{name: "invalid image ref", err: ErrInvalidImageRef, want: true},
		{name: "unsupported image", err: fmt.Errorf("decode: %w", ErrUnsupportedImage), want: true},
		{name: "wrapped permanent", err: fmt.Errorf("x: %w", NewPermanentError(errors.New("boom"))), want: true},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), want: false},
		{name: "blob missing", err: ErrBlobNotFound, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanent(tt.err))
		})
	}
}

func TestPermanentError(t *testing.T) {
	inner := errors.New("bad pixels")
	err := NewPermanentError(inner)

	assert.Equal(t, "permanent error: bad pixels", err.Error())
	assert.ErrorIs(t, err, inner)
}
