package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	kv := []interface{}{"user_id", "u-1", "jwt_token", "abc.def.ghi", "SUPABASE_JWT_SECRET", "s3cr3t"}

	out := redact(kv)

	assert.Equal(t, []interface{}{"user_id", "u-1", "jwt_token", "[REDACTED]", "SUPABASE_JWT_SECRET", "[REDACTED]"}, out)
	// input untouched
	assert.Equal(t, "abc.def.ghi", kv[3])
}

func TestRedact_OddLength(t *testing.T) {
	out := redact([]interface{}{"password", "p", "dangling"})
	assert.Equal(t, []interface{}{"password", "[REDACTED]", "dangling"}, out)
}

func TestNew_Modes(t *testing.T) {
	for _, mode := range []string{"development", "production"} {
		l, err := New(mode)
		assert.NoError(t, err)
		assert.NotNil(t, l.With("component", "test"))
	}
}
