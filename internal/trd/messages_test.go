package trd

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"over limit", &PolicyError{Kind: OverLimit, Limit: 3, Got: 3}, "no more than 3 active torrents"},
		{"too large", &PolicyError{Kind: TooLarge, Limit: 2 << 30}, "2.0 GiB"},
		{"nothing selected", &PolicyError{Kind: NothingSelected}, MsgNoFileSelected},
		{"selection too large", fmt.Errorf("wrapped: %w", &PolicyError{Kind: SelectionTooLarge, Limit: 1 << 20, Got: 2 << 20}), "1.0 MiB"},
		{"bad link", &HashExtractionError{Source: "magnet"}, MsgInvalidLink},
		{"no metadata", fmt.Errorf("x: %w", ErrMetadataUnavailable), MsgMetadataUnavailable},
		{"stale selection", ErrSelectionNotOpen, MsgInvitation},
		{"anything else", errors.New("disk on fire"), MsgUnknownError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UserMessage(tt.err)
			if tt.want == "" {
				if got != "" {
					t.Errorf("UserMessage() = %q, want empty", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("UserMessage() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestPolicyError_Error(t *testing.T) {
	err := &PolicyError{Kind: SelectionTooLarge, Limit: 1024, Got: 4096}
	if got := err.Error(); got != "selection of 4.0 KiB exceeds the limit of 1.0 KiB" {
		t.Errorf("Error() = %q", got)
	}
	if pe, ok := AsPolicyError(fmt.Errorf("ctx: %w", err)); !ok || pe.Kind != SelectionTooLarge {
		t.Errorf("AsPolicyError() = %v, %v", pe, ok)
	}
}
