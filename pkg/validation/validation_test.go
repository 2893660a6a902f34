package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateStreamID(t *testing.T) {
	tests := []struct {
		name     string
		streamID string
		wantErr  bool
	}{
		{"uuid", "6f1c2a4e-1b7d-4c51-9a2e-0d5b8f3c9e11", false},
		{"slug", "pasta_night-2", false},
		{"empty", "", true},
		{"spaces", "pasta night", true},
		{"path", "../etc", true},
		{"too long", strings.Repeat("a", MaxIDLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStreamID(tt.streamID)
			assert.Equal(t, tt.wantErr, err != nil, "error = %v", err)
		})
	}
}

func TestValidateUserID(t *testing.T) {
	assert.NoError(t, ValidateUserID("u-alice"))
	assert.Error(t, ValidateUserID(""))
	assert.Error(t, ValidateUserID("alice@example.com"))
}

func TestValidateUserName(t *testing.T) {
	assert.NoError(t, ValidateUserName(""))
	assert.NoError(t, ValidateUserName("Chef Ana"))
	assert.NoError(t, ValidateUserName(strings.Repeat("é", MaxUserNameLength)))
	assert.Error(t, ValidateUserName(strings.Repeat("é", MaxUserNameLength+1)))
	assert.Error(t, ValidateUserName("\xff"))
}

func TestValidateChatMessage(t *testing.T) {
	assert.NoError(t, ValidateChatMessage("add more garlic"))
	assert.Error(t, ValidateChatMessage("   "))
	assert.Error(t, ValidateChatMessage(strings.Repeat("x", MaxMessageLength+1)))
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "salt\tpepper\nbasil", SanitizeText("  salt\tpepper\nbasil\x00\x07 "))
	assert.Equal(t, "", SanitizeText("\x1b"))
}

func TestValidateSignalURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"ws", "ws://localhost:3001/ws", false},
		{"wss", "wss://signal.example.com/ws", false},
		{"http", "http://localhost:3001/ws", true},
		{"no host", "ws:///ws", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSignalURL(tt.url)
			assert.Equal(t, tt.wantErr, err != nil, "error = %v", err)
		})
	}
}
