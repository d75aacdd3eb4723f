package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMulti_EmptyIsNilErr(t *testing.T) {
	m := NewMulti("test")
	assert.False(t, m.HasErrors())
	assert.Nil(t, m.Err())
}

func TestMulti_AddAndErr(t *testing.T) {
	m := NewMulti("validate")
	m.Add(errors.New("bad device a"))
	m.Add(nil)
	m.Add(errors.New("bad device b"))

	assert.True(t, m.HasErrors())
	err := m.Err()
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "2 error(s) for: validate")
	assert.Contains(t, err.Error(), "bad device a")
	assert.Contains(t, err.Error(), "bad device b")
}

func TestMulti_Unwrap(t *testing.T) {
	first := errors.New("first")
	m := NewMulti("x")
	m.Add(first)
	m.Add(errors.New("second"))

	assert.True(t, errors.Is(m, first))
}
