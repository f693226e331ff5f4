package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitasync/vitasync/pkg/errors"
)

func TestRunValidatesEndpointCount(t *testing.T) {
	assertFriendly := func(args []string) {
		err := run(args, false, false)
		assert.Error(t, err)
		_, ok := errors.RootCause(err).(errors.FriendlyError)
		assert.True(t, ok, "expected a friendly error for args %v", args)
	}

	assertFriendly(nil)
	assertFriendly([]string{"~/vita-saves"})
	assertFriendly([]string{"192.168.1.5", "192.168.1.6", "192.168.1.7", "~/vita-saves"})
}
