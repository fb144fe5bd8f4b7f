// Package intake validates submitted blueprint packages before anything is
// persisted: streamed size caps, structural checks, id normalization, and the
// secret scan in secrets.go. Intake never touches storage; it only accepts or
// rejects bytes.
package intake

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// FormatMarker is the fixed top-level format discriminator every package
// must carry.
const FormatMarker = "blueprint-package/v1"

// MaxSlugLength bounds normalized blueprint ids.
const MaxSlugLength = 64

var (
	// ErrTooLarge is returned when the body exceeds the byte cap, either
	// while streaming or after re-serialization.
	ErrTooLarge = errors.New("package exceeds size limit")

	// ErrNotJSON is returned when the body is not a JSON object.
	ErrNotJSON = errors.New("package body is not valid JSON")

	// ErrInvalidShape is returned for structural violations; the wrapping
	// message names the missing or malformed piece.
	ErrInvalidShape = errors.New("package shape invalid")

	// ErrInvalidBlueprintID is returned when the manifest id normalizes to
	// nothing usable.
	ErrInvalidBlueprintID = errors.New("blueprint id invalid")
)

// ReadBody streams the request body under a hard byte cap. It rejects as soon
// as the running total passes the cap, without buffering the remainder.
func ReadBody(r io.Reader, maxBytes int64) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read package body: %w", err)
	}
	if n > maxBytes {
		return nil, ErrTooLarge
	}
	return buf.Bytes(), nil
}

// Manifest is the descriptive metadata block of a package.
type Manifest struct {
	BlueprintID       string   `json:"blueprintId"`
	Title             string   `json:"title"`
	Summary           string   `json:"summary"`
	Category          string   `json:"category"`
	Tags              []string `json:"tags"`
	Complexity        string   `json:"complexity"`
	CompanyStage      string   `json:"companyStage"`
	TeamSizeBand      string   `json:"teamSizeBand"`
	SourceType        string   `json:"sourceType"`
	ParentBlueprintID string   `json:"parentBlueprintId"`
	ParentVersionID   string   `json:"parentVersionId"`
}

// ContentCounts summarizes the system object for the denormalized version
// columns.
type ContentCounts struct {
	Teams        int
	Services     int
	Goals        int
	Initiatives  int
	WorkPackages int
}

// Package is a structurally validated submission. Raw holds the exact bytes
// as received; those bytes, not a re-serialization, are what gets stored so
// a later fetch returns the payload verbatim.
type Package struct {
	Raw      []byte
	Root     map[string]interface{}
	Manifest Manifest
	Slug     string
	Counts   ContentCounts
}

// Validate parses and structurally checks a package body. maxBytes is applied
// a second time to the re-serialized tree, guarding against inputs whose
// parsed form balloons past what the wire form suggested.
func Validate(raw []byte, maxBytes int64) (*Package, error) {
	var root map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&root); err != nil {
		return nil, ErrNotJSON
	}

	format, _ := root["format"].(string)
	if format != FormatMarker {
		return nil, fmt.Errorf("%w: format must be %q", ErrInvalidShape, FormatMarker)
	}

	rawManifest, ok := root["manifest"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: manifest object required", ErrInvalidShape)
	}
	var manifest Manifest
	mb, err := json.Marshal(rawManifest)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest not serializable", ErrInvalidShape)
	}
	if err := json.Unmarshal(mb, &manifest); err != nil {
		return nil, fmt.Errorf("%w: manifest fields malformed", ErrInvalidShape)
	}
	if strings.TrimSpace(manifest.BlueprintID) == "" {
		return nil, fmt.Errorf("%w: manifest.blueprintId required", ErrInvalidShape)
	}
	if strings.TrimSpace(manifest.Title) == "" {
		return nil, fmt.Errorf("%w: manifest.title required", ErrInvalidShape)
	}

	seedPrompt, _ := root["seedPrompt"].(string)
	if strings.TrimSpace(seedPrompt) == "" {
		return nil, fmt.Errorf("%w: seedPrompt required", ErrInvalidShape)
	}

	system, ok := root["system"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: system object required", ErrInvalidShape)
	}

	reserialized, err := json.Marshal(root)
	if err != nil {
		return nil, ErrNotJSON
	}
	if int64(len(reserialized)) > maxBytes {
		return nil, ErrTooLarge
	}

	slug := NormalizeSlug(manifest.BlueprintID)
	if slug == "" {
		return nil, ErrInvalidBlueprintID
	}

	return &Package{
		Raw:      raw,
		Root:     root,
		Manifest: manifest,
		Slug:     slug,
		Counts: ContentCounts{
			Teams:        arrayLen(system, "teams"),
			Services:     arrayLen(system, "services"),
			Goals:        arrayLen(system, "goals"),
			Initiatives:  arrayLen(system, "initiatives"),
			WorkPackages: arrayLen(system, "workPackages"),
		},
	}, nil
}

func arrayLen(m map[string]interface{}, key string) int {
	if arr, ok := m[key].([]interface{}); ok {
		return len(arr)
	}
	return 0
}

// NormalizeSlug lowercases the id and collapses every non-alphanumeric run to
// a single hyphen, trimming leading/trailing hyphens. An id that normalizes
// to empty or overruns MaxSlugLength yields "".
func NormalizeSlug(id string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(id) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" || len(slug) > MaxSlugLength {
		return ""
	}
	return slug
}
