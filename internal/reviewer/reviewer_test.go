package reviewer

import (
	"testing"

	"github.com/aymenfurter/polyclaw-sub001/internal/config"
	polyErrors "github.com/aymenfurter/polyclaw-sub001/internal/errors"

	"github.com/stretchr/testify/assert"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		approved bool
		wantErr  bool
	}{
		{"approve", "APPROVE: read-only lookup", true, false},
		{"deny", "DENY: destructive shell command", false, false},
		{"lowercase", "approve: fine", true, false},
		{"leading whitespace", "  DENY: exfiltration risk", false, false},
		{"chatty output", "I think this is probably okay to run.", false, true},
		{"empty", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := parseVerdict(tt.content)
			if tt.wantErr {
				assert.ErrorIs(t, err, polyErrors.ErrInvalidVerdict)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.approved, verdict.Approved)
			assert.NotEmpty(t, verdict.Rationale)
		})
	}
}

func TestParseVerdict_RationaleExtraction(t *testing.T) {
	verdict, err := parseVerdict("DENY: wipes the data directory")
	assert.NoError(t, err)
	assert.Equal(t, "wipes the data directory", verdict.Rationale)
}

func TestFactory_UnknownProvider(t *testing.T) {
	_, err := New(config.ReviewerConfig{Provider: "watsonx"})
	assert.Error(t, err)
}
