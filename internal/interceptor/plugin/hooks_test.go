package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHooksListsEveryHook(t *testing.T) {
	assert.ElementsMatch(t, []Hook{HookOnRequest, HookOnResponse, HookOnConnect, HookOnCapture, HookOnRuleMatch}, Hooks())
}

func TestContextCloneIsIndependent(t *testing.T) {
	method := "GET"
	original := &Context{
		Method:   &method,
		Headers:  map[string]string{"A": "1"},
		Body:     []byte("body"),
		Metadata: map[string]string{"k": "v"},
	}

	clone := original.Clone()
	clone.Headers["A"] = "2"
	clone.Body[0] = 'X'
	*clone.Method = "POST"

	assert.Equal(t, "1", original.Headers["A"])
	assert.Equal(t, "body", string(original.Body))
	assert.Equal(t, "GET", *original.Method)
}

func TestContextsEqualComparesDeeply(t *testing.T) {
	a := NewContext()
	a.Headers["X"] = "1"
	b := a.Clone()

	assert.True(t, contextsEqual(a, b))

	b.Headers["X"] = "2"
	assert.False(t, contextsEqual(a, b))
}
