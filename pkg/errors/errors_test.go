package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithContext(t *testing.T) {
	root := New("connection reset")
	err := WithContext(WithContext(root, "take snapshot"), "pull endpoint")

	assert.Equal(t, "pull endpoint: take snapshot: connection reset", err.Error())
	assert.Equal(t, root, RootCause(err))
	assert.Equal(t, "pull endpoint: take snapshot: connection reset",
		GetPrintableMessage(err))
}

func TestFriendlyMessageWins(t *testing.T) {
	friendly := NewFriendlyError("Provide one or two FTP endpoints.")
	err := WithContext(friendly, "parse arguments")

	assert.Equal(t, "Provide one or two FTP endpoints.", GetPrintableMessage(err))
	assert.Equal(t, friendly, RootCause(err))
}

func TestTypedErrors(t *testing.T) {
	dne := FileNotFound{Path: "/merged/x.txt"}
	assert.Equal(t, `"/merged/x.txt" does not exist`, dne.Error())

	inaccessible := DirectoryInaccessible{Path: "PSPEMU", Err: New("550 denied")}
	assert.Contains(t, inaccessible.Error(), "PSPEMU")

	err := WithContext(inaccessible, "pull")
	_, ok := RootCause(err).(DirectoryInaccessible)
	assert.True(t, ok)
}
