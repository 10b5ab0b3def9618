package eventbus

import (
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/psychoinformatics-de/hirni/internal/types"
)

// streamManager is the part of nats.JetStreamContext used to set up streams.
type streamManager interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// SubjectFor returns the subject results with status s are published on.
// Format: <prefix>.<status> (e.g. hirni.results.error).
func SubjectFor(prefix string, s types.Status) string {
	return strings.TrimSuffix(prefix, ".") + "." + string(s)
}

// StreamName derives the JetStream stream name from a subject prefix:
// hirni.results becomes HIRNI_RESULTS.
func StreamName(prefix string) string {
	name := strings.ToUpper(strings.TrimSuffix(prefix, "."))
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(name)
}

// EnsureStream creates the stream capturing all result subjects under
// prefix if it does not exist yet.
func EnsureStream(js streamManager, prefix string) error {
	name := StreamName(prefix)
	if _, err := js.StreamInfo(name); err == nil {
		return nil
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{strings.TrimSuffix(prefix, ".") + ".>"},
		Storage:  nats.FileStorage,
		// Retain last 10000 messages or 100MB, whichever comes first.
		MaxMsgs:  10000,
		MaxBytes: 100 << 20,
	})
	if err != nil {
		return fmt.Errorf("create %s stream: %w", name, err)
	}
	return nil
}
