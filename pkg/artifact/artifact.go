package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Artifact is the immutable text produced by one inference call.
type Artifact struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Adapter   string            `json:"adapter"`
	Model     string            `json:"model"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Hash      string            `json:"hash"`
}

// New creates an artifact and computes its content hash.
func New(content, adapter, model string) *Artifact {
	a := &Artifact{
		ID:        uuid.NewString(),
		Content:   content,
		Adapter:   adapter,
		Model:     model,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now().UTC(),
	}
	a.Hash = Hash(content, adapter, model)
	return a
}

// WithMetadata returns a copy of the artifact with key set to value.
func (a *Artifact) WithMetadata(key, value string) *Artifact {
	out := *a
	out.Metadata = make(map[string]string, len(a.Metadata)+1)
	for k, v := range a.Metadata {
		out.Metadata[k] = v
	}
	out.Metadata[key] = value
	return &out
}

// Hash returns the short content hash used to identify equal outputs.
func Hash(content, adapter, model string) string {
	h := sha256.New()
	h.Write([]byte(content))
	h.Write([]byte(adapter))
	h.Write([]byte(model))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
