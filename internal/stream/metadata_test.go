package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMetadata(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		visible string
		want    Metadata
	}{
		{
			name:    "no markers",
			raw:     "  Just text.\n",
			visible: "Just text.",
			want:    Metadata{QuickReplies: []string{}},
		},
		{
			name:    "quick replies",
			raw:     "Hello world\n\n[[QUICK_REPLIES]] a | b",
			visible: "Hello world",
			want:    Metadata{QuickReplies: []string{"a", "b"}},
		},
		{
			name:    "both markers on separate lines",
			raw:     "Sounds good.\n[[QUICK_REPLIES]] Yes please | Not yet\n[[DELAY]] 5",
			visible: "Sounds good.",
			want:    Metadata{QuickReplies: []string{"Yes please", "Not yet"}, NextMessageDelaySeconds: 5},
		},
		{
			name:    "markers on one line",
			raw:     "Ok [[DELAY]] 12 [[QUICK_REPLIES]] x|y",
			visible: "Ok",
			want:    Metadata{QuickReplies: []string{"x", "y"}, NextMessageDelaySeconds: 12},
		},
		{
			name:    "colon and quotes tolerated",
			raw:     "Hi\n[[QUICK_REPLIES]]: \"Sure\" | 'Later' | ",
			visible: "Hi",
			want:    Metadata{QuickReplies: []string{"Sure", "Later"}},
		},
		{
			name:    "quick replies capped",
			raw:     "Hi\n[[QUICK_REPLIES]] 1 | 2 | 3 | 4 | 5 | 6",
			visible: "Hi",
			want:    Metadata{QuickReplies: []string{"1", "2", "3", "4"}},
		},
		{
			name:    "delay clamped high",
			raw:     "Hi\n[[DELAY]] 9000 seconds",
			visible: "Hi",
			want:    Metadata{QuickReplies: []string{}, NextMessageDelaySeconds: MaxDelaySeconds},
		},
		{
			name:    "negative delay",
			raw:     "Hi\n[[DELAY]] -4",
			visible: "Hi",
			want:    Metadata{QuickReplies: []string{}},
		},
		{
			name:    "garbage delay",
			raw:     "Hi\n[[DELAY]] soon",
			visible: "Hi",
			want:    Metadata{QuickReplies: []string{}},
		},
		{
			name:    "text after marker line is hidden",
			raw:     "Hi\n[[DELAY]] 3\nP.S. secret",
			visible: "Hi",
			want:    Metadata{QuickReplies: []string{}, NextMessageDelaySeconds: 3},
		},
		{
			name:    "brackets that are not markers",
			raw:     "Your total is [about] $200.",
			visible: "Your total is [about] $200.",
			want:    Metadata{QuickReplies: []string{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			visible, md := ParseMetadata(tt.raw)
			require.Equal(t, tt.visible, visible)
			require.Equal(t, tt.want, md)
		})
	}
}

func TestPendingMarkerLen(t *testing.T) {
	require.Equal(t, 0, pendingMarkerLen("hello"))
	require.Equal(t, 1, pendingMarkerLen("hello ["))
	require.Equal(t, 2, pendingMarkerLen("hello [["))
	require.Equal(t, 5, pendingMarkerLen("x[[DEL"))
	require.Equal(t, len(QuickRepliesMarker)-1, pendingMarkerLen("[[QUICK_REPLIES]"))
	require.Equal(t, 0, pendingMarkerLen("[[x"))
}
