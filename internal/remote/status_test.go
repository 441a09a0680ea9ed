package remote

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("listing: %w", &StatusError{Code: StatusNotConnected, Message: "down"})

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NotErrorIs(t, err, &StatusError{Code: StatusNotFound})
}

func TestStatusError_UnwrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := NewStatusError(StatusInternal, cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "remote: internal: boom", err.Error())
}

func TestStatusOf(t *testing.T) {
	code, ok := StatusOf(fmt.Errorf("wrap: %w", &StatusError{Code: StatusConflict}))
	assert.True(t, ok)
	assert.Equal(t, StatusConflict, code)

	_, ok = StatusOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestStatusCode_RoundTripNames(t *testing.T) {
	for code, name := range statusNames {
		assert.Equal(t, name, code.String())

		parsed, ok := ParseStatusCode(name)
		assert.True(t, ok)
		assert.Equal(t, code, parsed)
	}

	assert.Equal(t, "status(99)", StatusCode(99).String())
}

func TestQuery_Matches(t *testing.T) {
	file := &Metadata{Title: "a.txt", MimeType: "text/plain"}
	folder := &Metadata{Title: "docs", IsFolder: true}
	trashed := &Metadata{Title: "old.txt", IsTrashed: true}

	tests := []struct {
		name string
		q    Query
		md   *Metadata
		want bool
	}{
		{"empty query matches file", Query{}, file, true},
		{"trashed excluded by default", Query{}, trashed, false},
		{"trashed included on request", Query{IncludeTrashed: true}, trashed, true},
		{"exact title", Query{Title: "a.txt"}, file, true},
		{"exact title mismatch", Query{Title: "b.txt"}, file, false},
		{"mime filter", Query{MimeType: "text/plain"}, file, true},
		{"folders only rejects file", Query{FoldersOnly: true}, file, false},
		{"files only rejects folder", Query{FilesOnly: true}, folder, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.q.Matches(tt.md))
		})
	}
}
