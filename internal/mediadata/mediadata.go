// Metadata normalization. The extraction tools write info sidecars in
// incompatible shapes (yt-dlp's flat schema, gallery-dl's nested author
// schema, and a bare-username variant); this package resolves them into one
// canonical record and renders the user-facing caption from it.
package mediadata

import (
	"strings"

	"github.com/mitchellh/mapstructure"
)

const (
	synthesizedTitleLimit = 60
	descriptionLimit      = 200
	minDescriptionLength  = 10

	placeholderCaption = "```\n📥 Media downloaded\n```"
)

type (
	// Record is the canonical metadata shape. Fields default to empty
	// strings, never nil, so caption rendering is uniform.
	Record struct {
		Title       string
		Source      string
		Description string
		URL         string
	}

	// primarySchema matches the flat sidecar written by the video tool.
	primarySchema struct {
		Title       string `mapstructure:"title"`
		Description string `mapstructure:"description"`
		Channel     string `mapstructure:"channel"`
		Uploader    string `mapstructure:"uploader"`
		UploaderID  string `mapstructure:"uploader_id"`
		WebpageURL  string `mapstructure:"webpage_url"`
	}

	// secondarySchema matches the gallery tool's sidecars. Author is
	// decoded as 'any' because some extractors emit an object and others a
	// bare string.
	secondarySchema struct {
		Author   any    `mapstructure:"author"`
		Content  string `mapstructure:"content"`
		Username string `mapstructure:"username"`
	}

	authorSchema struct {
		Name     string `mapstructure:"name"`
		Username string `mapstructure:"username"`
	}
)

// Normalize converts a raw sidecar map (schema unknown at compile time)
// into a canonical Record. The primary schema wins whenever it yields any
// content; the secondary schema is only consulted when every primary field
// came back empty.
func Normalize(raw map[string]any) Record {
	if len(raw) == 0 {
		return Record{}
	}

	var primary primarySchema
	// Decode errors mean a field had a surprising type; the record simply
	// stays empty for those fields.
	_ = mapstructure.WeakDecode(raw, &primary)

	record := Record{
		Title:       strings.TrimSpace(primary.Title),
		Description: primary.Description,
		Source:      primarySource(primary),
		URL:         primary.WebpageURL,
	}

	if record.Title == "" && record.Source == "" && strings.TrimSpace(record.Description) == "" {
		applySecondary(raw, &record)
	}

	record.Description = cleanDescription(record.Description)
	record.Source = strings.TrimSpace(record.Source)
	return record
}

func primarySource(primary primarySchema) string {
	if primary.Channel != "" {
		return primary.Channel
	}
	if primary.Uploader != "" {
		return primary.Uploader
	}

	// Fall back to a sanitized identifier: underscores spaced out and
	// title-cased so it reads like a display name.
	return titleCase(strings.ReplaceAll(primary.UploaderID, "_", " "))
}

func applySecondary(raw map[string]any, record *Record) {
	var secondary secondarySchema
	if err := mapstructure.WeakDecode(raw, &secondary); err != nil {
		return
	}

	switch author := secondary.Author.(type) {
	case map[string]any:
		var decoded authorSchema
		if err := mapstructure.WeakDecode(author, &decoded); err == nil {
			if decoded.Name != "" {
				record.Source = decoded.Name
			} else {
				record.Source = decoded.Username
			}
		}

		record.Description = secondary.Content
		record.Title = synthesizeTitle(secondary.Content)
	case string:
		record.Source = author
		record.Description = secondary.Content
		record.Title = synthesizeTitle(secondary.Content)
	default:
		if secondary.Username != "" {
			record.Source = secondary.Username
		}
	}
}

// synthesizeTitle derives a title from the leading characters of a content
// body when the schema carries no separate title field.
func synthesizeTitle(content string) string {
	trimmed := strings.TrimSpace(content)
	runes := []rune(trimmed)
	if len(runes) > synthesizedTitleLimit {
		return string(runes[:synthesizedTitleLimit]) + "..."
	}

	return trimmed
}

// cleanDescription blanks out descriptions that carry no real content: a
// single bare URL token, or anything shorter than the noise threshold.
func cleanDescription(description string) string {
	trimmed := strings.TrimSpace(description)
	if trimmed == "" {
		return ""
	}

	words := strings.Fields(trimmed)
	if len(words) == 1 && strings.HasPrefix(words[0], "http") {
		return ""
	}
	if len(trimmed) < minDescriptionLength {
		return ""
	}

	return trimmed
}

// Caption renders the fixed-format monospace caption for this record. The
// output is always non-empty and valid for the transport's Markdown mode.
func (r Record) Caption() string {
	var b strings.Builder
	b.WriteString("```\n")
	hasContent := false

	if title := strings.TrimSpace(r.Title); title != "" {
		b.WriteString("📁 " + title + "\n")
		hasContent = true
	}

	if source := strings.TrimSpace(r.Source); source != "" {
		if hasContent {
			b.WriteString("\n")
		}
		b.WriteString("👤 " + source + "\n")
		hasContent = true
	}

	if description := strings.TrimSpace(r.Description); description != "" {
		runes := []rune(description)
		if len(runes) > descriptionLimit {
			description = string(runes[:descriptionLimit]) + "..."
		}
		if hasContent {
			b.WriteString("\n")
		}
		b.WriteString("📝 " + description + "\n")
		hasContent = true
	}

	if !hasContent {
		return placeholderCaption
	}

	b.WriteString("```")
	return b.String()
}

// titleCase uppercases the first letter of each space-separated word.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		runes := []rune(strings.ToLower(word))
		runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
		words[i] = string(runes)
	}

	return strings.Join(words, " ")
}
