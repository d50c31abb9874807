package gcsuploader

import (
	"testing"
	"time"
)

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{"valid", "gs://bucket/path/to/file.json", "bucket", "path/to/file.json", false},
		{"no scheme", "bucket/file.json", "", "", true},
		{"no object", "gs://bucket", "", "", true},
		{"empty object", "gs://bucket/", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, object, err := ParseGCSURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseGCSURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
			if bucket != tt.wantBucket || object != tt.wantObject {
				t.Errorf("ParseGCSURI(%q) = %q, %q; want %q, %q", tt.uri, bucket, object, tt.wantBucket, tt.wantObject)
			}
		})
	}
}

func TestExtractFilenameFromGCSURI(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"gs://bucket/folder/file.pdf", "file.pdf"},
		{"gs://bucket/file.json", "file.json"},
		{"gs://bucket", "bucket"},
	}
	for _, tt := range tests {
		if got := ExtractFilenameFromGCSURI(tt.uri); got != tt.want {
			t.Errorf("ExtractFilenameFromGCSURI(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestObjectName(t *testing.T) {
	at := time.Date(2024, 3, 5, 23, 0, 0, 0, time.UTC)
	got := ObjectName("statements", "abc", "/tmp/02 Jan 2024 - 01 Feb 2024.json", at)
	want := "statements/2024/03/abc/02 Jan 2024 - 01 Feb 2024.json"
	if got != want {
		t.Errorf("ObjectName() = %q, want %q", got, want)
	}
}
