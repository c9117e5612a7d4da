package relay

import (
	"fmt"
	"testing"

	"github.com/lanparty/server/internal/domain"
)

func TestChatHistoryBound(t *testing.T) {
	s := NewChatStore()
	for i := 0; i < domain.ChatHistoryCap+1; i++ {
		s.Append(ChatMessage{
			Type:     "chatMessage",
			RoomID:   "lounge",
			Username: "Alice",
			Message:  fmt.Sprintf("msg-%d", i),
		})
	}

	h := s.History("lounge")
	if len(h) != domain.ChatHistoryCap {
		t.Fatalf("history holds %d entries, want %d", len(h), domain.ChatHistoryCap)
	}
	if h[0].Message != "msg-1" {
		t.Errorf("oldest entry should be evicted first, head is %q", h[0].Message)
	}
	if h[len(h)-1].Message != fmt.Sprintf("msg-%d", domain.ChatHistoryCap) {
		t.Errorf("newest entry missing, tail is %q", h[len(h)-1].Message)
	}
}

func TestChatHistoryPerRoom(t *testing.T) {
	s := NewChatStore()
	s.Append(ChatMessage{RoomID: "lounge", Message: "in lounge"})
	s.Append(ChatMessage{RoomID: "cinema", Message: "in cinema"})

	if h := s.History("lounge"); len(h) != 1 || h[0].Message != "in lounge" {
		t.Errorf("lounge history wrong: %v", h)
	}
	if h := s.History("games"); h == nil || len(h) != 0 {
		t.Errorf("empty room should yield an empty non-nil slice, got %#v", h)
	}
}
