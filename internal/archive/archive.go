// Package archive stores completed interview transcripts in Supabase
// storage. Everything here is best effort: callers log failures and move on.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/prepline/interview-voice/internal/review"
)

// Config holds Supabase storage credentials.
type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Uploader writes transcript objects keyed transcripts/<id>.json.
type Uploader struct {
	client *supabase.Client
	bucket string
}

// New builds an Uploader. Returns an error instead of panicking so a
// misconfigured archive degrades to "no archive" at startup.
func New(cfg Config) (*Uploader, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Uploader{client: client, bucket: cfg.Bucket}, nil
}

type transcriptObject struct {
	TranscriptID string         `json:"transcriptId"`
	ArchivedAt   time.Time      `json:"archivedAt"`
	Entries      []review.Entry `json:"entries"`
}

// Store uploads the transcript as a JSON object.
func (u *Uploader) Store(ctx context.Context, transcriptID string, entries []review.Entry) error {
	data, err := json.Marshal(transcriptObject{
		TranscriptID: transcriptID,
		ArchivedAt:   time.Now().UTC(),
		Entries:      entries,
	})
	if err != nil {
		return fmt.Errorf("marshal transcript %s: %w", transcriptID, err)
	}
	key := fmt.Sprintf("transcripts/%s.json", transcriptID)
	if _, err := u.client.Storage.UploadFile(u.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload transcript %s: %w", transcriptID, err)
	}
	return nil
}
