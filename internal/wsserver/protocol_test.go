package wsserver

import (
	"encoding/json"
	"testing"

	"devsync/internal/changebus"
)

func TestEncodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		event   changebus.Event
		want    string
		wantErr bool
	}{
		{name: "tree", event: changebus.TreeInvalidated(), want: `{"type":"fs:tree"}`},
		{name: "tree drops stray path", event: changebus.Event{Type: changebus.TypeTreeInvalidated, Path: "/x"}, want: `{"type":"fs:tree"}`},
		{name: "file", event: changebus.FileChanged("/src/a.go"), want: `{"type":"fs:change","path":"/src/a.go"}`},
		{name: "repo", event: changebus.RepoInvalidated(), want: `{"type":"git"}`},
		{name: "file without path", event: changebus.Event{Type: changebus.TypeFileChanged}, wantErr: true},
		{name: "unknown type", event: changebus.Event{Type: "bogus"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeEvent(tt.event)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("EncodeEvent() = %s, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("EncodeEvent() error = %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("EncodeEvent() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEncodeHello(t *testing.T) {
	if _, err := EncodeHello(""); err == nil {
		t.Fatal("EncodeHello(\"\") expected error")
	}
	frame, err := EncodeHello("abc")
	if err != nil {
		t.Fatal(err)
	}
	var msg helloMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != TypeHello || msg.ClientID != "abc" {
		t.Fatalf("hello = %+v", msg)
	}
}

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		frame   string
		want    string
		wantErr bool
	}{
		{frame: `{"type":"ping"}`, want: TypePing},
		{frame: `{"type":"ping","extra":1}`, want: TypePing},
		{frame: `{}`, wantErr: true},
		{frame: `[]`, wantErr: true},
		{frame: ``, wantErr: true},
	}
	for _, tt := range tests {
		got, err := DecodeClientMessage([]byte(tt.frame))
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("DecodeClientMessage(%q) = %q, %v", tt.frame, got, err)
		}
	}
}

func TestResyncFrames(t *testing.T) {
	frames := resyncFrames()
	if len(frames) != 2 || string(frames[0]) != `{"type":"fs:tree"}` || string(frames[1]) != `{"type":"git"}` {
		t.Fatalf("resyncFrames() = %q", frames)
	}
}
