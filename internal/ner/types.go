package ner

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/rules"
)

// Label is an entity class produced by a recognizer
type Label int

const (
	LabelUnknown Label = iota
	Person
	GPE
	Loc
	Org
	Date
	Time

	labelCount
)

var labelNames = [labelCount]string{
	LabelUnknown: "UNKNOWN",
	Person:       "PERSON",
	GPE:          "GPE",
	Loc:          "LOC",
	Org:          "ORG",
	Date:         "DATE",
	Time:         "TIME",
}

// labelPlaceholders is indexed by Label; an unmapped label is a zero entry
// and is caught by the tests.
var labelPlaceholders = [labelCount]rules.Placeholder{
	LabelUnknown: "",
	Person:       rules.Person,
	GPE:          rules.Location,
	Loc:          rules.Location,
	Org:          rules.Organization,
	Date:         rules.Date,
	Time:         rules.Time,
}

var labelAliases = map[string]Label{
	"PERSON":       Person,
	"PER":          Person,
	"GPE":          GPE,
	"LOC":          Loc,
	"LOCATION":     Loc,
	"ORG":          Org,
	"ORGANIZATION": Org,
	"DATE":         Date,
	"TIME":         Time,
}

func (l Label) String() string {
	if l < 0 || l >= labelCount {
		return labelNames[LabelUnknown]
	}
	return labelNames[l]
}

// Placeholder returns the token that replaces entities of this label.
// ok is false for labels that are not redacted.
func (l Label) Placeholder() (rules.Placeholder, bool) {
	if l <= LabelUnknown || l >= labelCount {
		return "", false
	}
	return labelPlaceholders[l], true
}

// ParseLabel maps spaCy and CoNLL label names to a Label. BIO prefixes
// are stripped. Unrecognized names map to LabelUnknown.
func ParseLabel(name string) Label {
	name = strings.ToUpper(strings.TrimSpace(name))
	if len(name) > 2 && (strings.HasPrefix(name, "B-") || strings.HasPrefix(name, "I-")) {
		name = name[2:]
	}
	if l, ok := labelAliases[name]; ok {
		return l
	}
	return LabelUnknown
}

// Labels returns every redacted label
func Labels() []Label {
	out := make([]Label, 0, labelCount-1)
	for l := LabelUnknown + 1; l < labelCount; l++ {
		out = append(out, l)
	}
	return out
}

// Entity is a recognized span. Start and End are byte offsets into the
// text passed to Recognize, or -1 when the backend does not report them.
type Entity struct {
	Text  string `json:"text"`
	Label Label  `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// HasOffsets reports whether the entity carries a usable span
func (e Entity) HasOffsets() bool {
	return e.Start >= 0 && e.End > e.Start
}

// Recognizer finds named entities in text. Implementations must be safe
// for concurrent use once constructed.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]Entity, error)
	Name() string
	Close() error
}

// BackendType selects a recognizer implementation
type BackendType string

const (
	ProseBackend     BackendType = "prose"
	GazetteerBackend BackendType = "gazetteer"
	HTTPBackend      BackendType = "http"
	ONNXBackend      BackendType = "onnx"
)

// Config selects and configures the recognizer
type Config struct {
	Type      BackendType
	HTTP      HTTPConfig
	ONNX      ONNXConfig
	Gazetteer GazetteerConfig

	// Temporal adds the regex date and time recognizer to the backend
	Temporal bool
}

// HTTPConfig configures the remote recognizer client
type HTTPConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// ONNXConfig configures the token-classification model
type ONNXConfig struct {
	ModelPath string
	VocabPath string
	Labels    []string // id2label, in model output order
	MaxLength int
	Lowercase bool
}

// GazetteerConfig configures the dictionary recognizer. When Enabled is
// set alongside another backend, both run and their results are merged.
type GazetteerConfig struct {
	Enabled    bool
	Terms      map[string][]string // label name -> phrases
	IgnoreCase bool
}

var (
	// ErrBackendUnavailable is returned when a backend was not compiled in
	ErrBackendUnavailable = errors.New("recognizer backend not available in this build")

	// ErrRecognizerFailed wraps failures reported by a recognizer at runtime
	ErrRecognizerFailed = errors.New("recognizer failed")
)
