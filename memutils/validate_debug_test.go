//go:build debug_mem_utils

package memutils_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/offheap/memutils"
)

type validatable struct {
	err error
}

func (v validatable) Validate() error { return v.err }

func TestDebugValidatePanics(t *testing.T) {
	require.NotPanics(t, func() {
		memutils.DebugValidate(validatable{})
	})
	require.Panics(t, func() {
		memutils.DebugValidate(validatable{err: errors.New("corrupt")})
	})
}
